// SPDX-License-Identifier: GPL-2.0-only

package sshx

import "sync"

// Credentials pairs a username with its secret. The secret lives only in
// process memory; the persisted SSH preferences carry the username alone.
type Credentials struct {
	Username string
	Secret   string
}

// CredentialCache holds the credentials entered during this process run,
// keyed by host. Auto-reconnect consults it and silently skips hosts the
// user has not authenticated against yet, rather than prompting.
type CredentialCache struct {
	mu    sync.Mutex
	byKey map[string]Credentials
}

func NewCredentialCache() *CredentialCache {
	return &CredentialCache{byKey: map[string]Credentials{}}
}

func (c *CredentialCache) Put(host string, creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[host] = creds
}

func (c *CredentialCache) Get(host string) (Credentials, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	creds, ok := c.byKey[host]
	return creds, ok
}

// Forget drops the credentials for host, for use after auth failures.
func (c *CredentialCache) Forget(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byKey, host)
}
