// SPDX-License-Identifier: GPL-2.0-only

package store

// DescriptionStore caches human-readable device descriptions per host,
// keyed by busid. Windows remotes report "unknown product" for devices
// without a usable product string; the cache supplies the last real
// description seen for that (host, busid) pair.
type DescriptionStore struct {
	docs DocStore
}

func NewDescriptionStore(docs DocStore) *DescriptionStore {
	return &DescriptionStore{docs: docs}
}

func (s *DescriptionStore) load() (map[string]interface{}, map[string]interface{}) {
	doc := s.docs.Load(DocDescriptions)
	byHost, ok := doc["descriptions"].(map[string]interface{})
	if !ok {
		byHost = map[string]interface{}{}
		doc["descriptions"] = byHost
	}
	return doc, byHost
}

// Description returns the cached description for (host, busid).
func (s *DescriptionStore) Description(host, busid string) (string, bool) {
	_, byHost := s.load()
	devices, ok := byHost[host].(map[string]interface{})
	if !ok {
		return "", false
	}
	desc, ok := devices[busid].(string)
	if !ok || desc == "" {
		return "", false
	}
	return desc, true
}

// Put records a description for (host, busid). Empty descriptions are
// ignored so a placeholder never overwrites a real name.
func (s *DescriptionStore) Put(host, busid, desc string) error {
	if desc == "" {
		return nil
	}
	doc, byHost := s.load()
	devices, ok := byHost[host].(map[string]interface{})
	if !ok {
		devices = map[string]interface{}{}
		byHost[host] = devices
	}
	if prev, _ := devices[busid].(string); prev == desc {
		return nil
	}
	devices[busid] = desc
	return s.docs.Save(DocDescriptions, doc)
}

// ClearHost drops all cached descriptions for host.
func (s *DescriptionStore) ClearHost(host string) error {
	doc, byHost := s.load()
	if _, ok := byHost[host]; !ok {
		return nil
	}
	delete(byHost, host)
	return s.docs.Save(DocDescriptions, doc)
}
