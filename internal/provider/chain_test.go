package provider_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/flemzord/ragchat/internal/provider"
	"github.com/flemzord/ragchat/internal/provider/providertest"
)

func okProvider(name string) *providertest.MockProvider {
	return &providertest.MockProvider{
		Model:        name,
		CompleteFunc: providertest.Reply(name),
		StreamFunc:   providertest.Chunks(name),
	}
}

func failProvider(err error) *providertest.MockProvider {
	return &providertest.MockProvider{
		Model: "fail",
		CompleteFunc: func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{}, err
		},
		StreamFunc: func(context.Context, provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
			return nil, err
		},
	}
}

func TestNewChain_Validation(t *testing.T) {
	t.Parallel()

	if _, err := provider.NewChain(nil); !errors.Is(err, provider.ErrNoProvider) {
		t.Errorf("empty chain: err = %v, want ErrNoProvider", err)
	}
	if _, err := provider.NewChain([]provider.ChainEntry{{Name: "x", Role: provider.RolePrimary}}); !errors.Is(err, provider.ErrNoProvider) {
		t.Errorf("nil provider: err = %v, want ErrNoProvider", err)
	}
}

func TestChain_Complete_Failover(t *testing.T) {
	t.Parallel()

	primary := failProvider(provider.ErrProviderDown)
	backup := okProvider("backup")
	chain, err := provider.NewChain([]provider.ChainEntry{
		{Name: "primary", Provider: primary, Role: provider.RolePrimary},
		{Name: "backup", Provider: backup, Role: provider.RoleFallback},
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := chain.Complete(context.Background(), provider.RolePrimary, provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "backup" {
		t.Errorf("content = %q, want backup", resp.Content)
	}

	status := chain.Status()
	if status[0].State != "cooldown" || status[1].State != "healthy" {
		t.Errorf("status = %+v", status)
	}
}

func TestChain_Complete_NonRetryableStops(t *testing.T) {
	t.Parallel()

	boom := errors.New("bad request")
	backup := okProvider("backup")
	chain, _ := provider.NewChain([]provider.ChainEntry{
		{Name: "primary", Provider: failProvider(boom), Role: provider.RolePrimary},
		{Name: "backup", Provider: backup, Role: provider.RoleFallback},
	})

	_, err := chain.Complete(context.Background(), provider.RolePrimary, provider.CompletionRequest{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if c, _ := backup.Calls(); c != 0 {
		t.Errorf("fallback called %d times, want 0", c)
	}
}

func TestChain_Complete_AllExhausted(t *testing.T) {
	t.Parallel()

	chain, _ := provider.NewChain([]provider.ChainEntry{
		{Name: "a", Provider: failProvider(provider.ErrRateLimit), Role: provider.RolePrimary},
		{Name: "b", Provider: failProvider(provider.ErrProviderDown), Role: provider.RoleFallback},
	})

	_, err := chain.Complete(context.Background(), provider.RolePrimary, provider.CompletionRequest{})
	if !errors.Is(err, provider.ErrAllProviders) || !errors.Is(err, provider.ErrProviderDown) {
		t.Fatalf("err = %v, want ErrAllProviders wrapping last error", err)
	}
}

func TestChain_RoleRouting(t *testing.T) {
	t.Parallel()

	chain, _ := provider.NewChain([]provider.ChainEntry{
		{Name: "chat", Provider: okProvider("chat"), Role: provider.RolePrimary},
		{Name: "fb", Provider: okProvider("fb"), Role: provider.RoleFallback, FallbackFor: []provider.Role{provider.RolePrimary}},
	})

	if chain.HasRole(provider.RoleInternal) {
		t.Error("internal role should have no candidates")
	}
	_, err := chain.Complete(context.Background(), provider.RoleInternal, provider.CompletionRequest{})
	if !errors.Is(err, provider.ErrNoProvider) {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}

	resp, err := chain.Complete(context.Background(), provider.RolePrimary, provider.CompletionRequest{})
	if err != nil || resp.Content != "chat" {
		t.Errorf("primary Complete = %+v, %v", resp, err)
	}
}

func TestChain_RateLimitRotatesKey(t *testing.T) {
	t.Parallel()

	auth, err := provider.NewAuthProfile("k1", "k2")
	if err != nil {
		t.Fatal(err)
	}
	chain, _ := provider.NewChain([]provider.ChainEntry{
		{Name: "a", Provider: failProvider(provider.ErrRateLimit), Role: provider.RolePrimary, Auth: auth},
		{Name: "b", Provider: okProvider("b"), Role: provider.RoleFallback},
	})

	if _, err := chain.Complete(context.Background(), provider.RolePrimary, provider.CompletionRequest{}); err != nil {
		t.Fatal(err)
	}
	if auth.CurrentKey() != "k2" {
		t.Errorf("key = %q, want k2", auth.CurrentKey())
	}
}

func TestChain_Stream(t *testing.T) {
	t.Parallel()

	chain, _ := provider.NewChain([]provider.ChainEntry{
		{Name: "s", Provider: &providertest.MockProvider{StreamFunc: providertest.Chunks("a", "b", "c")}, Role: provider.RolePrimary},
	})

	ch, err := chain.Stream(context.Background(), provider.RolePrimary, provider.CompletionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	var got string
	for chunk := range ch {
		got += chunk.Content
	}
	if got != "abc" {
		t.Errorf("stream = %q, want abc", got)
	}
}

func TestChain_Stream_AbandonedConsumer(t *testing.T) {
	t.Parallel()

	pieces := make([]string, 100)
	for i := range pieces {
		pieces[i] = fmt.Sprint(i)
	}
	chain, _ := provider.NewChain([]provider.ChainEntry{
		{Name: "s", Provider: &providertest.MockProvider{StreamFunc: providertest.Chunks(pieces...)}, Role: provider.RolePrimary},
	})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := chain.Stream(ctx, provider.RolePrimary, provider.CompletionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	<-ch
	cancel()

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream channel not closed after cancellation")
	}
}
