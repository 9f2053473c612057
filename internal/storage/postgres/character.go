package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/blake2b"
)

// TokenLength is the fixed size of a connect token on the wire.
const TokenLength = 32

// ErrCharacterNotFound is returned when a character lookup yields no results.
var ErrCharacterNotFound = errors.New("character not found")

// ErrCharacterNameTaken is returned when creating a character with a name already in use.
var ErrCharacterNameTaken = errors.New("character name already taken")

// ErrInvalidToken is returned when a token is empty or longer than TokenLength.
var ErrInvalidToken = errors.New("invalid connect token")

// Character is a playable character row.
type Character struct {
	ID        int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CharacterRepository provides character persistence operations.
type CharacterRepository struct {
	db *pgxpool.Pool
}

// NewCharacterRepository creates a CharacterRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewCharacterRepository(db *pgxpool.Pool) *CharacterRepository {
	return &CharacterRepository{db: db}
}

// Create inserts a new character and returns it with ID and timestamps set.
//
// Precondition: name must be non-empty.
// Postcondition: Returns the created character, or ErrCharacterNameTaken on duplicate.
func (r *CharacterRepository) Create(ctx context.Context, name string) (*Character, error) {
	var out Character
	err := r.db.QueryRow(ctx, `
		INSERT INTO characters (name) VALUES ($1)
		RETURNING id, name, created_at, updated_at`,
		name,
	).Scan(&out.ID, &out.Name, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrCharacterNameTaken
		}
		return nil, fmt.Errorf("inserting character: %w", err)
	}
	return &out, nil
}

// GetByID retrieves a character by its primary key.
//
// Precondition: id must be > 0.
// Postcondition: Returns the Character or ErrCharacterNotFound.
func (r *CharacterRepository) GetByID(ctx context.Context, id int64) (*Character, error) {
	var c Character
	err := r.db.QueryRow(ctx, `
		SELECT id, name, created_at, updated_at
		FROM characters WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCharacterNotFound
		}
		return nil, fmt.Errorf("querying character: %w", err)
	}
	return &c, nil
}

// GetByName retrieves a character by name.
//
// Postcondition: Returns the Character or ErrCharacterNotFound.
func (r *CharacterRepository) GetByName(ctx context.Context, name string) (*Character, error) {
	var c Character
	err := r.db.QueryRow(ctx, `
		SELECT id, name, created_at, updated_at
		FROM characters WHERE name = $1`,
		name,
	).Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCharacterNotFound
		}
		return nil, fmt.Errorf("querying character by name: %w", err)
	}
	return &c, nil
}

// GetByToken resolves a connect token to its character.
//
// Postcondition: Returns the Character, ErrInvalidToken, or ErrCharacterNotFound.
func (r *CharacterRepository) GetByToken(ctx context.Context, token string) (*Character, error) {
	hash, err := HashToken(token)
	if err != nil {
		return nil, err
	}
	var c Character
	err = r.db.QueryRow(ctx, `
		SELECT c.id, c.name, c.created_at, c.updated_at
		FROM character_tokens t JOIN characters c ON c.id = t.character_id
		WHERE t.token_hash = $1`,
		hash,
	).Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCharacterNotFound
		}
		return nil, fmt.Errorf("querying character by token: %w", err)
	}
	return &c, nil
}

// IssueToken stores the hash of token for characterID.
//
// Precondition: characterID must reference an existing character.
// Postcondition: GetByToken(token) returns the character; returns
// ErrCharacterNotFound when the character does not exist.
func (r *CharacterRepository) IssueToken(ctx context.Context, characterID int64, token string) error {
	hash, err := HashToken(token)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO character_tokens (token_hash, character_id) VALUES ($1, $2)
		ON CONFLICT (token_hash) DO UPDATE SET character_id = EXCLUDED.character_id, created_at = NOW()`,
		hash, characterID,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrCharacterNotFound
		}
		return fmt.Errorf("issuing token: %w", err)
	}
	return nil
}

// RevokeTokens deletes every token of characterID.
//
// Postcondition: Returns the number of tokens removed.
func (r *CharacterRepository) RevokeTokens(ctx context.Context, characterID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM character_tokens WHERE character_id = $1`, characterID)
	if err != nil {
		return 0, fmt.Errorf("revoking tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HashToken returns the BLAKE2b-256 digest stored in place of token.
//
// Postcondition: Returns a 32-byte digest, or ErrInvalidToken.
func HashToken(token string) ([]byte, error) {
	if token == "" || len(token) > TokenLength || strings.ContainsRune(token, 0) {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidToken, len(token))
	}
	sum := blake2b.Sum256([]byte(token))
	return sum[:], nil
}

// GenerateToken returns a random TokenLength-character hex token.
func GenerateToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	return sqlState(err) == "23505"
}

// isForeignKeyError checks if a pgx error is a foreign key violation.
func isForeignKeyError(err error) bool {
	return sqlState(err) == "23503"
}

func sqlState(err error) string {
	// pgx wraps PostgreSQL errors; they expose SQLSTATE
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState()
	}
	return ""
}
