package access

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/webkontor/sitecms/core/csql"
	"github.com/webkontor/sitecms/core/logger"
)

// ErrInvalidCredentials is returned by VerifyCredentials when the
// username is unknown or the password does not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// EnsureAccountTable creates the account table if it does not exist yet.
// Only the bcrypt hash of a password is ever stored.
func EnsureAccountTable(db *csql.DB) error {
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Schema + `.account
(id BIGSERIAL PRIMARY KEY,
username varchar NOT NULL UNIQUE,
password_hash varchar NOT NULL,
role varchar NOT NULL,
created_at timestamp NOT NULL DEFAULT now()
);`)
	return err
}

// EnsureAccount creates the specified account if it does not exist yet.
// An existing account is left untouched, password included.
func EnsureAccount(db *csql.DB, username, password, role string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	insertQuery := fmt.Sprintf("INSERT INTO %s.account (username,password_hash,role) VALUES($1,$2,$3) ON CONFLICT DO NOTHING;", db.Schema)
	_, err = db.Exec(insertQuery, username, string(hash), role)
	return err
}

// VerifyCredentials compares the submitted password against the stored
// bcrypt hash and returns the account's authorization on success.
func VerifyCredentials(db *csql.DB, username, password string) (*Authorization, error) {
	var (
		id   int64
		hash string
		role string
	)
	query := fmt.Sprintf("SELECT id, password_hash, role FROM %s.account WHERE username=$1;", db.Schema)
	err := db.QueryRow(query, username).Scan(&id, &hash, &role)
	if err == csql.ErrNoRows {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &Authorization{AccountID: id, Identity: username, Role: role}, nil
}

// HandleLoginRoute adds a route /login POST to the router.
//
// The route accepts {"username": ..., "password": ...} and returns a
// signed bearer token for the account.
func HandleLoginRoute(router *mux.Router, db *csql.DB, tokens *TokenAuth) {
	logger.Default().Debugln("login")
	logger.Default().Debugln("  handle route: /login POST")
	router.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())

		var credentials struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
			http.Error(w, "invalid json data: "+err.Error(), http.StatusBadRequest)
			return
		}

		auth, err := VerifyCredentials(db, credentials.Username, credentials.Password)
		if err == ErrInvalidCredentials {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		if err != nil {
			rlog.WithError(err).Errorln("Error 4301: credential lookup")
			http.Error(w, "Error 4301", http.StatusInternalServerError)
			return
		}

		token, err := tokens.Mint(*auth)
		if err != nil {
			rlog.WithError(err).Errorln("Error 4302: token mint")
			http.Error(w, "Error 4302", http.StatusInternalServerError)
			return
		}

		jsonData, _ := json.Marshal(map[string]string{"token": token})
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	}).Methods(http.MethodPost)
}
