package qauth

import (
	"context"
	"testing"

	"github.com/qualisys/qauth/permission"
)

func BenchmarkValidateAccess(b *testing.B) {
	env := newTestEnv(b)
	env.addUser(b, "u1", "alice@qualisys.io", member("t1", permission.Developer))
	pair := env.login(b, "alice@qualisys.io", false)

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.engine.ValidateAccess(ctx, pair.AccessToken); err != nil {
			b.Fatalf("validate: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	env := newTestEnv(b)
	env.addUser(b, "u1", "alice@qualisys.io", member("t1", permission.Developer))
	token := env.login(b, "alice@qualisys.io", false).RefreshToken

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pair, err := env.engine.Refresh(ctx, token)
		if err != nil {
			b.Fatalf("refresh: %v", err)
		}
		token = pair.RefreshToken
	}
}

func BenchmarkAuthorize(b *testing.B) {
	claims := &Claims{IdentityID: "u1", TenantID: "t1", Role: permission.Developer}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := Authorize(claims, "t1", permission.Viewer); err != nil {
			b.Fatalf("authorize: %v", err)
		}
	}
}
