// Package identity provides a minimal credential directory used for login
// and e-signature verification. Production deployments are expected to sit
// behind a real identity provider; this directory covers standalone and
// test setups.
package identity

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"dmscore/internal/model"
)

// dummyHash is a real bcrypt hash of a throwaway value, compared against
// when the username is unknown so unknown and known usernames take the
// same time.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dms-dummy-credential"), bcrypt.DefaultCost)

// User is one directory entry. PasswordHash is a bcrypt hash.
type User struct {
	ID           string
	Username     string
	Roles        []string
	PasswordHash string
}

// Directory verifies credentials and e-signatures against a fixed user set.
// It is safe for concurrent use: the maps are never mutated after New.
type Directory struct {
	byName map[string]User
	byID   map[string]User
}

// New creates a directory from the given users.
func New(users []User) *Directory {
	d := &Directory{
		byName: make(map[string]User, len(users)),
		byID:   make(map[string]User, len(users)),
	}
	for _, u := range users {
		d.byName[u.Username] = u
		d.byID[u.ID] = u
	}
	return d
}

// LoadFromEnv builds a directory from the DMS_USERS environment variable.
// Format: semicolon-separated entries of "id|username|role1,role2|bcrypt-hash".
func LoadFromEnv() (*Directory, error) {
	raw := os.Getenv("DMS_USERS")
	if raw == "" {
		return New(nil), nil
	}
	var users []User
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "|", 4)
		if len(parts) != 4 {
			return nil, fmt.Errorf("malformed DMS_USERS entry %q", entry)
		}
		u := User{ID: parts[0], Username: parts[1], PasswordHash: parts[3]}
		for _, r := range strings.Split(parts[2], ",") {
			if r = strings.TrimSpace(r); r != "" {
				u.Roles = append(u.Roles, r)
			}
		}
		users = append(users, u)
	}
	return New(users), nil
}

// VerifyCredentials authenticates a username/password pair.
func (d *Directory) VerifyCredentials(username, password string) (model.Actor, error) {
	u, ok := d.byName[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return model.Actor{}, fmt.Errorf("unknown user %q", username)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return model.Actor{}, fmt.Errorf("password mismatch for %q", username)
	}
	return model.Actor{ID: u.ID, Username: u.Username, Roles: u.Roles}, nil
}

// VerifySignature checks an e-signature assertion: the actor re-enters
// their password to sign a controlled workflow transition.
func (d *Directory) VerifySignature(actorID, password string) error {
	u, ok := d.byID[actorID]
	if !ok {
		return fmt.Errorf("unknown actor %q", actorID)
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}

// HashPassword returns a bcrypt hash for seeding directories.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}
