package stunutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	if got := Classify([]string{"1.2.3.4:1"}); got != NATTypeUnknown {
		t.Fatalf("got=%q", got)
	}
	if got := Classify([]string{"1.2.3.4:1", "1.2.3.4:1"}); got != NATTypeConeOrRestricted {
		t.Fatalf("got=%q", got)
	}
	if got := Classify([]string{"1.2.3.4:1", "1.2.3.4:2"}); got != NATTypeSymmetric {
		t.Fatalf("got=%q", got)
	}
}

func TestDiscover_NoServers(t *testing.T) {
	t.Parallel()

	m, err := Discover(context.Background(), nil, time.Second)
	if !errors.Is(err, ErrNoServers) || m.NATType != NATTypeUnknown {
		t.Fatalf("mapping=%+v err=%v", m, err)
	}
}

func TestServerURI(t *testing.T) {
	t.Parallel()

	uri, err := serverURI(" stun.l.google.com:19302 ")
	if err != nil {
		t.Fatalf("serverURI: %v", err)
	}
	if uri.Host != "stun.l.google.com" || uri.Port != 19302 {
		t.Fatalf("uri=%+v", uri)
	}
	if _, err := serverURI("  "); err == nil {
		t.Fatalf("expected error")
	}
}
