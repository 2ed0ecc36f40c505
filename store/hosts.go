// SPDX-License-Identifier: GPL-2.0-only

package store

import (
	"github.com/efficientgo/core/errors"

	"github.com/bwiersma/usbip-bridge/dialect"
)

// HostList persists the set of known remote hosts in the ip_list document
// as {"ips": ["host", ...]}. Order is preserved; entries are unique.
type HostList struct {
	docs DocStore
}

func NewHostList(docs DocStore) *HostList {
	return &HostList{docs: docs}
}

// Hosts returns the stored host list, dropping anything unparseable.
func (l *HostList) Hosts() []string {
	raw, _ := l.docs.Load(DocHostList)["ips"].([]interface{})
	var hosts []string
	for _, v := range raw {
		h, ok := v.(string)
		if !ok || !dialect.ValidHost(h) {
			continue
		}
		hosts = append(hosts, h)
	}
	return hosts
}

func (l *HostList) save(hosts []string) error {
	out := make([]interface{}, len(hosts))
	for i, h := range hosts {
		out[i] = h
	}
	doc := l.docs.Load(DocHostList)
	doc["ips"] = out
	return l.docs.Save(DocHostList, doc)
}

// Add appends a host, rejecting invalid names and duplicates.
func (l *HostList) Add(host string) error {
	if !dialect.ValidHost(host) {
		return errors.Wrapf(dialect.ErrInvalidIdentity, "host %q", host)
	}
	hosts := l.Hosts()
	for _, h := range hosts {
		if h == host {
			return nil
		}
	}
	return l.save(append(hosts, host))
}

// Remove drops a host from the list.
func (l *HostList) Remove(host string) error {
	hosts := l.Hosts()
	kept := hosts[:0]
	for _, h := range hosts {
		if h != host {
			kept = append(kept, h)
		}
	}
	if len(kept) == len(hosts) {
		return nil
	}
	return l.save(kept)
}
