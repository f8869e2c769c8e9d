package data

import (
	"context"
	"time"
)

// UserModel persists registered users under .config/users/{userId}.json.
type UserModel struct {
	St *Stores
}

func (m UserModel) Get(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := m.St.readJSON(ctx, UserKey(userID), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (m UserModel) Put(ctx context.Context, user *User) error {
	return m.St.writeJSON(ctx, UserKey(user.UserID), user)
}

func (m UserModel) Delete(ctx context.Context, userID string) error {
	return m.St.remove(ctx, UserKey(userID))
}

// APIKeyModel stores the management API keys as a single record; the service
// layer enforces "at most one active".
type APIKeyModel struct {
	St *Stores
}

type apiKeyRecord struct {
	Keys []APIKey `json:"keys"`
}

func (m APIKeyModel) GetAll(ctx context.Context) ([]APIKey, error) {
	var rec apiKeyRecord
	if err := m.St.readJSON(ctx, apiKeysKey, &rec); err != nil {
		return nil, err
	}
	return rec.Keys, nil
}

func (m APIKeyModel) PutAll(ctx context.Context, keys []APIKey) error {
	return m.St.writeJSON(ctx, apiKeysKey, apiKeyRecord{Keys: keys})
}

func (m APIKeyModel) DeleteAll(ctx context.Context) error {
	return m.PutAll(ctx, nil)
}

// ConfigModel stores the seeded global configuration at .config/global.json.
type ConfigModel struct {
	St *Stores
}

func (m ConfigModel) Get(ctx context.Context) (*GlobalConfig, error) {
	var cfg GlobalConfig
	if err := m.St.readJSON(ctx, globalConfigKey, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (m ConfigModel) Put(ctx context.Context, cfg *GlobalConfig) error {
	if cfg.SeededAt.IsZero() {
		cfg.SeededAt = time.Now().UTC()
	}
	return m.St.writeJSON(ctx, globalConfigKey, cfg)
}
