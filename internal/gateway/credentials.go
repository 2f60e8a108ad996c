package gateway

import "strings"

// CredentialTable maps partner ids to upstream API credentials. It is built
// once at startup from configuration and is immutable afterwards; the gateway
// receives it by value rather than reading process-wide state.
type CredentialTable struct {
	keys map[string]string
}

// NewCredentialTable copies the provided mapping into an immutable table.
func NewCredentialTable(keys map[string]string) CredentialTable {
	copied := make(map[string]string, len(keys))
	for partner, key := range keys {
		partner = strings.TrimSpace(partner)
		key = strings.TrimSpace(key)
		if partner == "" || key == "" {
			continue
		}
		copied[partner] = key
	}
	return CredentialTable{keys: copied}
}

// Lookup resolves the API key for a partner id.
func (t CredentialTable) Lookup(partnerID string) (string, bool) {
	key, ok := t.keys[strings.TrimSpace(partnerID)]
	return key, ok
}

// Partners returns the number of configured partners.
func (t CredentialTable) Partners() int {
	return len(t.keys)
}
