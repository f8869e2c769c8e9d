package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRoundTripKeepsRole(t *testing.T) {
	st, _ := newTestStores(t)
	ctx := context.Background()
	users := UserModel{St: st}

	for _, role := range []UserRole{UserAdmin, UserStandard, UserRoomMember} {
		require.NoError(t, users.Put(ctx, &User{
			UserID:    "u-" + string(role),
			Name:      string(role),
			Role:      role,
			CreatedAt: time.Now().UTC(),
		}))
		got, err := users.Get(ctx, "u-"+string(role))
		require.NoError(t, err)
		assert.Equal(t, role, got.Role)
	}
}
