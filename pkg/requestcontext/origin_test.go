package requestcontext

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type OriginSuite struct {
	suite.Suite
}

func TestOriginSuite(t *testing.T) {
	suite.Run(t, new(OriginSuite))
}

func (s *OriginSuite) TestDeviceName() {
	s.Run("empty user agent returns unknown device", func() {
		s.Equal("Unknown Device", DeviceName(""))
		s.Equal("Unknown Device", DeviceName("   "))
	})

	s.Run("chrome on desktop includes browser and OS", func() {
		name := DeviceName("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		s.Contains(name, "Chrome")
		s.Contains(name, " on ")
		s.Contains(name, "Mac OS X")
	})

	s.Run("safari on iphone includes platform", func() {
		name := DeviceName("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
		s.Contains(name, " on ")
		s.Contains(name, "iPhone")
	})

	s.Run("firefox on linux includes browser and OS", func() {
		name := DeviceName("Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
		s.Contains(name, "Firefox")
		s.Contains(name, "Linux")
		s.Equal(name, strings.TrimSpace(name))
	})
}

func (s *OriginSuite) TestOrigin() {
	s.Run("empty without client metadata", func() {
		s.Empty(Origin(context.Background()))
		s.Empty(Origin(WithTime(context.Background(), time.Now())))
	})

	s.Run("device, address and request time", func() {
		at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.FixedZone("CET", 3600))
		ctx := WithTime(context.Background(), at)
		ctx = WithClientMetadata(ctx, "10.0.0.7", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")

		origin := Origin(ctx)
		s.True(strings.HasPrefix(origin, "Firefox"), origin)
		s.Contains(origin, " from 10.0.0.7 at 2026-01-02T14:04:05Z")
	})

	s.Run("missing user agent still names the address", func() {
		ctx := WithTime(context.Background(), time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
		ctx = WithClientMetadata(ctx, "192.0.2.1", "")
		s.Equal("Unknown Device from 192.0.2.1 at 2026-01-02T00:00:00Z", Origin(ctx))
	})
}
