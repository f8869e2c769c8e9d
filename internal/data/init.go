package data

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/auth"
	"github.com/openvidu/openvidu-meet/internal/bus"
	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/locks"
)

// Initializer runs the startup seeding protocol: exactly one replica takes
// the storage_init lock, writes the defaults, and broadcasts STORAGE_READY;
// the others wait on the event (with a poll fallback for missed broadcasts).
type Initializer struct {
	St            *Stores
	Bus           *bus.Bus
	AdminUser     string
	AdminPassword string
	Logger        *zap.Logger
}

const (
	initLockTTL  = time.Minute
	initWaitPoll = 2 * time.Second
	initDeadline = 2 * time.Minute
)

func (i *Initializer) Initialize(ctx context.Context) error {
	ready, cancel := i.Bus.Subscribe(bus.StorageReady, nil)
	defer cancel()

	lock, err := i.St.Locks.Acquire(ctx, locks.StorageInit(), initLockTTL)
	if err != nil {
		return err
	}
	if lock == nil {
		return i.waitSeeded(ctx, ready)
	}
	defer i.St.Locks.Release(context.WithoutCancel(ctx), lock)

	if err := i.seed(ctx); err != nil {
		return err
	}
	if err := i.Bus.Broadcast(ctx, bus.StorageReady, bus.Payload{"replica": "seeder"}); err != nil {
		i.Logger.Warn("storage ready broadcast failed", zap.Error(err))
	}
	return nil
}

func (i *Initializer) seed(ctx context.Context) error {
	cfgModel := ConfigModel{St: i.St}
	if _, err := cfgModel.Get(ctx); err != nil {
		if !errs.IsKind(err, errs.KindNotFound) {
			return err
		}
		if err := cfgModel.Put(ctx, &GlobalConfig{DefaultRoles: DefaultRoleTemplates()}); err != nil {
			return err
		}
		i.Logger.Info("seeded global config")
	}

	users := UserModel{St: i.St}
	if _, err := users.Get(ctx, i.AdminUser); err != nil {
		if !errs.IsKind(err, errs.KindNotFound) {
			return err
		}
		password := i.AdminPassword
		generated := false
		if password == "" {
			password = auth.RandomSuffix(16)
			generated = true
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return errs.Internal("hash initial admin password", err)
		}
		if err := users.Put(ctx, &User{
			UserID:             i.AdminUser,
			Name:               "Administrator",
			PasswordHash:       hash,
			Role:               UserAdmin,
			MustChangePassword: true,
			CreatedAt:          time.Now().UTC(),
		}); err != nil {
			return err
		}
		if generated {
			// One-time credential; operators must rotate on first login.
			i.Logger.Warn("seeded initial admin with generated password",
				zap.String("user", i.AdminUser), zap.String("password", password))
		} else {
			i.Logger.Info("seeded initial admin", zap.String("user", i.AdminUser))
		}
	}

	keys := APIKeyModel{St: i.St}
	existing, err := keys.GetAll(ctx)
	if err != nil && !errs.IsKind(err, errs.KindNotFound) {
		return err
	}
	if len(existing) == 0 {
		if err := keys.PutAll(ctx, []APIKey{{Key: auth.NewAPIKey(), CreatedAt: time.Now().UTC()}}); err != nil {
			return err
		}
		i.Logger.Info("seeded default api key")
	}
	return nil
}

// waitSeeded blocks until the seeding replica broadcasts STORAGE_READY. The
// poll covers the window where the broadcast fired before our subscription.
func (i *Initializer) waitSeeded(ctx context.Context, ready <-chan bus.Payload) error {
	deadline := time.NewTimer(initDeadline)
	defer deadline.Stop()
	poll := time.NewTicker(initWaitPoll)
	defer poll.Stop()

	for {
		select {
		case <-ready:
			return nil
		case <-poll.C:
			if _, err := (ConfigModel{St: i.St}).Get(ctx); err == nil {
				return nil
			}
		case <-deadline.C:
			return errs.Timeout("STORAGE_INIT_TIMEOUT", "storage initialization did not complete")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
