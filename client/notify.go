// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package client

import (
	"context"
	"sync"

	"github.com/emsgrid/emsgrid/internal/models"
)

// NotificationFeed is the client-held notification list: pages are
// fetched over REST newest first, pushed events are prepended, and
// mutations update the local list only after the REST call succeeds.
//
// Prepended pushes are not reconciled against the REST offset, so a
// later Load can duplicate or gap entries relative to live pushes. This
// mirrors the served contract; callers needing exact lists reload from
// offset zero.
type NotificationFeed struct {
	rest  *REST
	limit int

	mu      sync.Mutex
	items   []models.Notification
	offset  int
	hasMore bool

	sub *Subscription
}

// NewNotificationFeed builds an empty feed paging by limit.
func NewNotificationFeed(rest *REST, limit int) *NotificationFeed {
	if limit <= 0 {
		limit = 20
	}
	return &NotificationFeed{rest: rest, limit: limit, hasMore: true}
}

// Load fetches the next page and appends it.
func (f *NotificationFeed) Load(ctx context.Context) error {
	f.mu.Lock()
	offset := f.offset
	f.mu.Unlock()

	page, err := f.rest.Notifications(ctx, f.limit, offset)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.items = append(f.items, page.Notifications...)
	f.offset += len(page.Notifications)
	f.hasMore = page.HasMore
	f.mu.Unlock()
	return nil
}

// Attach subscribes the feed to the client's notification pushes.
func (f *NotificationFeed) Attach(c *Client) {
	f.sub = c.OnNotification(f.Push)
}

// Push prepends a live notification.
func (f *NotificationFeed) Push(n models.Notification) {
	f.mu.Lock()
	f.items = append([]models.Notification{n}, f.items...)
	f.mu.Unlock()
}

// MarkRead marks one notification read, mutating the local entry only
// on REST success.
func (f *NotificationFeed) MarkRead(ctx context.Context, id string) error {
	if err := f.rest.MarkNotificationRead(ctx, id); err != nil {
		return err
	}
	f.mu.Lock()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].IsRead = true
		}
	}
	f.mu.Unlock()
	return nil
}

// MarkAllRead marks every local entry read on REST success.
func (f *NotificationFeed) MarkAllRead(ctx context.Context) error {
	if err := f.rest.MarkAllNotificationsRead(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	for i := range f.items {
		f.items[i].IsRead = true
	}
	f.mu.Unlock()
	return nil
}

// Delete removes one notification locally on REST success.
func (f *NotificationFeed) Delete(ctx context.Context, id string) error {
	if err := f.rest.DeleteNotification(ctx, id); err != nil {
		return err
	}
	f.mu.Lock()
	kept := f.items[:0]
	for _, n := range f.items {
		if n.ID != id {
			kept = append(kept, n)
		}
	}
	f.items = kept
	f.mu.Unlock()
	return nil
}

// DeleteAll clears the feed on REST success.
func (f *NotificationFeed) DeleteAll(ctx context.Context) error {
	if err := f.rest.DeleteAllNotifications(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	f.items = nil
	f.offset = 0
	f.hasMore = false
	f.mu.Unlock()
	return nil
}

// Notifications returns a snapshot of the feed.
func (f *NotificationFeed) Notifications() []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Notification, len(f.items))
	copy(out, f.items)
	return out
}

// HasMore reports whether another Load may return entries.
func (f *NotificationFeed) HasMore() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasMore
}

// Close drops the feed's push subscription.
func (f *NotificationFeed) Close() {
	if f.sub != nil {
		f.sub.Close()
	}
}
