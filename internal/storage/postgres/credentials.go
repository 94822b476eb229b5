package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

// SupplierCredentials читает единственную строку supplier_credentials.
func (s *Store) SupplierCredentials(ctx context.Context) (domain.SupplierCredentials, error) {
	if s == nil || s.db == nil {
		return domain.SupplierCredentials{}, errNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var creds domain.SupplierCredentials
	err := s.db.QueryRowContext(ctx, `
		SELECT app_key, app_secret, access_token
		FROM supplier_credentials
		WHERE id = 1
	`).Scan(&creds.AppKey, &creds.AppSecret, &creds.AccessToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SupplierCredentials{}, domain.ErrSupplierCredentialsMissing
		}
		return domain.SupplierCredentials{}, fmt.Errorf("select supplier credentials: %w", err)
	}
	if !creds.Complete() {
		return domain.SupplierCredentials{}, domain.ErrSupplierCredentialsMissing
	}
	return creds, nil
}

// SaveSupplierCredentials сохраняет ключи поставщика, заменяя предыдущие.
func (s *Store) SaveSupplierCredentials(ctx context.Context, creds domain.SupplierCredentials) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO supplier_credentials (id, app_key, app_secret, access_token, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET app_key = EXCLUDED.app_key,
		    app_secret = EXCLUDED.app_secret,
		    access_token = EXCLUDED.access_token,
		    updated_at = EXCLUDED.updated_at
	`, creds.AppKey, creds.AppSecret, creds.AccessToken, time.Now().UTC()); err != nil {
		return fmt.Errorf("save supplier credentials: %w", err)
	}
	return nil
}

var _ domain.CredentialStore = (*Store)(nil)
