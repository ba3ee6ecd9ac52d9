package broker

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource returns an oauth2.TokenSource that yields the session token
// for subjectToken and role. Each Token call goes through Exchange, so it
// is served from the broker cache until the session token expires.
//
// Usage:
//
//	client := oauth2.NewClient(ctx, b.TokenSource(ctx, userToken, role))
func (b *Broker) TokenSource(ctx context.Context, subjectToken, role string) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, broker: b, subjectToken: subjectToken, role: role}
}

type tokenSource struct {
	ctx          context.Context
	broker       *Broker
	subjectToken string
	role         string
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	st, err := s.broker.Exchange(s.ctx, s.subjectToken, s.role)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: st.Token,
		TokenType:   "Bearer",
		Expiry:      st.ExpiresAt,
	}, nil
}
