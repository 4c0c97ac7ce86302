package licensing

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryUsage(t *testing.T) {
	t.Parallel()
	u := NewMemoryUsage()
	ctx := context.Background()

	n, err := u.Current(ctx, "mockpay", "t1")
	if err != nil || n != 0 {
		t.Fatalf("Current(unseen) = %d/%v, want 0/nil", n, err)
	}

	for want := int64(1); want <= 3; want++ {
		n, err = u.Increment(ctx, "mockpay", "t1")
		if err != nil || n != want {
			t.Fatalf("Increment = %d/%v, want %d/nil", n, err, want)
		}
	}

	// Counters are scoped per (plugin, tenant).
	if n, _ = u.Current(ctx, "mockpay", "t2"); n != 0 {
		t.Fatalf("Current(other tenant) = %d, want 0", n)
	}
	if n, _ = u.Current(ctx, "other", "t1"); n != 0 {
		t.Fatalf("Current(other plugin) = %d, want 0", n)
	}
}

func TestRedisUsage(t *testing.T) {
	t.Parallel()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	u := NewRedisUsage(client)
	ctx := context.Background()

	n, err := u.Current(ctx, "mockpay", "t1")
	if err != nil || n != 0 {
		t.Fatalf("Current(unseen) = %d/%v, want 0/nil", n, err)
	}

	if n, err = u.Increment(ctx, "mockpay", "t1"); err != nil || n != 1 {
		t.Fatalf("Increment = %d/%v, want 1/nil", n, err)
	}
	if n, err = u.Increment(ctx, "mockpay", "t1"); err != nil || n != 2 {
		t.Fatalf("Increment = %d/%v, want 2/nil", n, err)
	}

	if n, err = u.Current(ctx, "mockpay", "t1"); err != nil || n != 2 {
		t.Fatalf("Current = %d/%v, want 2/nil", n, err)
	}
	if n, _ = u.Current(ctx, "mockpay", "t2"); n != 0 {
		t.Fatalf("Current(other tenant) = %d, want 0", n)
	}
}

func TestRedisUsageSurfacesErrors(t *testing.T) {
	t.Parallel()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	srv.Close()
	u := NewRedisUsage(client)
	if _, err := u.Increment(context.Background(), "mockpay", "t1"); err == nil {
		t.Fatal("Increment against closed server succeeded")
	}
}
