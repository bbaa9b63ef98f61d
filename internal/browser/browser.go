// File: internal/browser/browser.go

// Package browser implements the tab capability surface over the Chrome
// DevTools Protocol. It connects to an already-running browser through its
// remote debugging endpoint and adopts tabs as CDP targets.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
)

// tabGroup is driver-side bookkeeping. The debugging protocol exposes no
// grouping primitive, so groups live here and are reflected into tab listings.
type tabGroup struct {
	id    int64
	title string
	color string
	tabs  []int
}

// Browser owns the connection to one running Chrome instance and the registry
// of adopted tabs.
type Browser struct {
	logger *zap.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu           sync.Mutex
	tabs         map[target.ID]*Tab
	tabIDs       map[target.ID]int
	nextTabID    int
	activeTarget target.ID
	groups       map[int64]*tabGroup
	nextGroupID  int64
}

// Connect attaches to the browser behind devtoolsURL. The URL is the
// http://host:port debugging endpoint or a ws:// target URL; both forms are
// accepted.
func Connect(ctx context.Context, logger *zap.Logger, devtoolsURL string) (*Browser, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), devtoolsURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to connect to browser at %s: %w", devtoolsURL, err)
	}
	if err := ctx.Err(); err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}

	b := &Browser{
		logger:        logger.Named("browser"),
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		tabs:          make(map[target.ID]*Tab),
		tabIDs:        make(map[target.ID]int),
		groups:        make(map[int64]*tabGroup),
	}
	b.logger.Info("Connected to browser", zap.String("devtools_url", devtoolsURL))
	return b, nil
}

// Close tears down every adopted tab context and the browser connection.
func (b *Browser) Close() {
	b.mu.Lock()
	for id, tab := range b.tabs {
		tab.cancel()
		delete(b.tabs, id)
	}
	b.mu.Unlock()
	b.browserCancel()
	b.allocCancel()
}

// ActiveTab adopts the first page target that already has a client attached,
// or the first page target when none has; commands start there.
func (b *Browser) ActiveTab(ctx context.Context) (*Tab, error) {
	targets, err := b.pageTargets(ctx)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("browser has no open tabs")
	}
	chosen := targets[0]
	for _, t := range targets {
		if t.Attached {
			chosen = t
			break
		}
	}
	tab, err := b.adopt(chosen.TargetID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.activeTarget = chosen.TargetID
	b.mu.Unlock()
	return tab, nil
}

// adopt returns the Tab for a target, creating and attaching a CDP context on
// first sight. Adoption is idempotent per target.
func (b *Browser) adopt(id target.ID) (*Tab, error) {
	b.mu.Lock()
	if tab, ok := b.tabs[id]; ok {
		b.mu.Unlock()
		return tab, nil
	}
	tabID, ok := b.tabIDs[id]
	if !ok {
		tabID = b.nextTabID
		b.nextTabID++
		b.tabIDs[id] = tabID
	}
	b.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx, chromedp.WithTargetID(id))
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to attach to tab %s: %w", id, err)
	}

	tab := newTab(b, tabID, id, tabCtx, tabCancel)

	b.mu.Lock()
	b.tabs[id] = tab
	b.mu.Unlock()
	return tab, nil
}

// newTarget opens a tab and adopts it.
func (b *Browser) newTarget(ctx context.Context, url string) (*Tab, error) {
	if url == "" {
		url = "about:blank"
	}
	var id target.ID
	err := b.runBrowser(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		id, err = target.CreateTarget(url).Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create tab: %w", err)
	}
	return b.adopt(id)
}

// pageTargets lists the browser's page targets in protocol order.
func (b *Browser) pageTargets(ctx context.Context) ([]*target.Info, error) {
	var targets []*target.Info
	err := b.runBrowser(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		targets, err = target.GetTargets().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	pages := targets[:0]
	for _, t := range targets {
		if t.Type == "page" {
			pages = append(pages, t)
		}
	}
	return pages, nil
}

// listTabs builds the TabInfo view, folding in the group registry and the
// last-activated marker.
func (b *Browser) listTabs(ctx context.Context) ([]schemas.TabInfo, error) {
	targets, err := b.pageTargets(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	groupOf := make(map[int]int64)
	for _, g := range b.groups {
		for _, tabID := range g.tabs {
			groupOf[tabID] = g.id
		}
	}

	infos := make([]schemas.TabInfo, 0, len(targets))
	for i, t := range targets {
		tabID, ok := b.tabIDs[t.TargetID]
		if !ok {
			tabID = b.nextTabID
			b.nextTabID++
			b.tabIDs[t.TargetID] = tabID
		}
		infos = append(infos, schemas.TabInfo{
			ID:      tabID,
			Index:   i,
			URL:     t.URL,
			Title:   t.Title,
			Active:  t.TargetID == b.activeTarget,
			GroupID: groupOf[tabID],
		})
	}
	return infos, nil
}

// activateTab brings the identified tab to the front.
func (b *Browser) activateTab(ctx context.Context, tabID int) error {
	targetID, ok := b.targetFor(tabID)
	if !ok {
		return fmt.Errorf("unknown tab id %d", tabID)
	}
	err := b.runBrowser(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return target.ActivateTarget(targetID).Do(c)
	}))
	if err != nil {
		return fmt.Errorf("failed to activate tab %d: %w", tabID, err)
	}
	b.mu.Lock()
	b.activeTarget = targetID
	b.mu.Unlock()
	return nil
}

func (b *Browser) targetFor(tabID int) (target.ID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for tid, id := range b.tabIDs {
		if id == tabID {
			return tid, true
		}
	}
	return "", false
}

// forget drops a closed tab from the registry.
func (b *Browser) forget(id target.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tab, ok := b.tabs[id]; ok {
		tab.cancel()
		delete(b.tabs, id)
	}
	delete(b.tabIDs, id)
}

func (b *Browser) createGroup(tabIDs []int, color, title string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextGroupID++
	g := &tabGroup{
		id:    b.nextGroupID,
		title: title,
		color: color,
		tabs:  append([]int(nil), tabIDs...),
	}
	b.groups[g.id] = g
	return g.id
}

func (b *Browser) addToGroup(groupID int64, tabIDs []int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[groupID]
	if !ok {
		return fmt.Errorf("unknown tab group %d", groupID)
	}
	for _, id := range tabIDs {
		present := false
		for _, have := range g.tabs {
			if have == id {
				present = true
				break
			}
		}
		if !present {
			g.tabs = append(g.tabs, id)
		}
	}
	return nil
}

func (b *Browser) removeGroup(groupID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.groups[groupID]; !ok {
		return fmt.Errorf("unknown tab group %d", groupID)
	}
	delete(b.groups, groupID)
	return nil
}

func (b *Browser) listGroups() []schemas.TabGroupInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]schemas.TabGroupInfo, 0, len(b.groups))
	for _, g := range b.groups {
		out = append(out, schemas.TabGroupInfo{
			ID:    g.id,
			Title: g.title,
			Color: g.color,
			Tabs:  append([]int(nil), g.tabs...),
		})
	}
	return out
}

// runBrowser executes actions on the browser-level context, bounded by the
// caller's context.
func (b *Browser) runBrowser(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(b.browserCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}
