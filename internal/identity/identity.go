// Package identity abstracts the external identity provider and the
// moderation collaborator. The core trusts identities as already verified.
package identity

import "net/http"

// Identity describes one connection's caller.
type Identity struct {
	AccountID   string // empty for guests
	DisplayName string
	Groups      []string
}

// IsGuest reports whether the caller has no stable account identity.
func (i Identity) IsGuest() bool {
	return i.AccountID == ""
}

// Provider resolves the verified identity of an incoming connection.
type Provider interface {
	Resolve(r *http.Request) (Identity, error)
}

// HeaderProvider reads the identity from request headers populated by an
// upstream auth proxy. Absent headers mean a guest connection.
type HeaderProvider struct{}

func (HeaderProvider) Resolve(r *http.Request) (Identity, error) {
	name := r.Header.Get("X-Display-Name")
	if name == "" {
		name = r.URL.Query().Get("name")
	}
	if name == "" {
		name = "anonymous"
	}
	return Identity{
		AccountID:   r.Header.Get("X-Account-Id"),
		DisplayName: name,
		Groups:      r.Header.Values("X-Account-Group"),
	}, nil
}
