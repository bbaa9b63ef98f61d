// File: internal/executor/tabs.go
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/nv4re/tabpilot/api/schemas"
)

func (e *Executor) tabList(ctx context.Context, tab schemas.TabHandle) (schemas.ActionResult, error) {
	tabs, err := tab.ListTabs(ctx)
	if err != nil {
		return schemas.ActionResult{Success: false,
			Message: fmt.Sprintf("failed to list tabs: %v", err)}, nil
	}
	groups, err := tab.ListTabGroups(ctx)
	if err != nil {
		groups = nil
	}

	groupTitle := make(map[int64]string, len(groups))
	for _, g := range groups {
		groupTitle[g.ID] = g.Title
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Open tabs (%d):\n", len(tabs))
	for _, t := range tabs {
		marker := " "
		if t.Active {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s [%d] %s - %s", marker, t.Index, t.Title, t.URL)
		if t.GroupID != 0 {
			fmt.Fprintf(&b, " (group %q)", groupTitle[t.GroupID])
		}
		b.WriteByte('\n')
	}

	return schemas.ActionResult{
		Success: true,
		Message: strings.TrimRight(b.String(), "\n"),
		Data: map[string]any{
			"tabs":   tabs,
			"groups": groups,
		},
	}, nil
}

func (e *Executor) tabNew(ctx context.Context, tab schemas.TabHandle, url string) (schemas.ActionResult, error) {
	created, err := tab.NewTab(ctx, url)
	if err != nil {
		return schemas.ActionResult{Success: false,
			Message: fmt.Sprintf("failed to open tab: %v", err)}, nil
	}
	return schemas.ActionResult{Success: true,
		Message: fmt.Sprintf("opened tab %d", created.ID()),
		Data:    map[string]any{"tabId": created.ID()}}, nil
}

func (e *Executor) tabClose(ctx context.Context, tab schemas.TabHandle) (schemas.ActionResult, error) {
	if err := tab.Close(ctx); err != nil {
		return schemas.ActionResult{Success: false,
			Message: fmt.Sprintf("failed to close tab: %v", err)}, nil
	}
	return schemas.ActionResult{Success: true, Message: "tab closed"}, nil
}

// tabSwitch activates a tab by its zero-based index in the listing order.
func (e *Executor) tabSwitch(ctx context.Context, tab schemas.TabHandle, index int) (schemas.ActionResult, error) {
	tabs, err := tab.ListTabs(ctx)
	if err != nil {
		return schemas.ActionResult{Success: false,
			Message: fmt.Sprintf("failed to list tabs: %v", err)}, nil
	}
	if index < 0 || index >= len(tabs) {
		return schemas.ActionResult{Success: false, Message: fmt.Sprintf(
			"%s: index %d, have %d tabs",
			schemas.CodeTabIndexRange, index, len(tabs))}, nil
	}
	if err := tab.ActivateTab(ctx, tabs[index].ID); err != nil {
		return schemas.ActionResult{Success: false,
			Message: fmt.Sprintf("failed to activate tab %d: %v", index, err)}, nil
	}
	return schemas.ActionResult{Success: true,
		Message: fmt.Sprintf("switched to tab %d: %s", index, tabs[index].Title)}, nil
}

func (e *Executor) tabGroupCreate(ctx context.Context, tab schemas.TabHandle, action schemas.Action) (schemas.ActionResult, error) {
	if len(action.TabIDs) == 0 {
		return schemas.ActionResult{Success: false,
			Message: "tab_group_create requires tabIds"}, nil
	}
	groupID, err := tab.GroupTabs(ctx, action.TabIDs, action.Color, action.Title)
	if err != nil {
		return schemas.ActionResult{Success: false,
			Message: fmt.Sprintf("failed to create tab group: %v", err)}, nil
	}
	return schemas.ActionResult{Success: true,
		Message: fmt.Sprintf("created group %d %q with %d tabs",
			groupID, action.Title, len(action.TabIDs)),
		Data: map[string]any{"groupId": groupID}}, nil
}

func (e *Executor) tabGroupAdd(ctx context.Context, tab schemas.TabHandle, action schemas.Action) (schemas.ActionResult, error) {
	if err := tab.AddToGroup(ctx, action.GroupID, action.TabIDs); err != nil {
		return schemas.ActionResult{Success: false,
			Message: fmt.Sprintf("failed to add tabs to group %d: %v", action.GroupID, err)}, nil
	}
	return schemas.ActionResult{Success: true,
		Message: fmt.Sprintf("added %d tabs to group %d", len(action.TabIDs), action.GroupID)}, nil
}

func (e *Executor) tabGroupRemove(ctx context.Context, tab schemas.TabHandle, groupID int64) (schemas.ActionResult, error) {
	if err := tab.Ungroup(ctx, groupID); err != nil {
		return schemas.ActionResult{Success: false,
			Message: fmt.Sprintf("failed to ungroup %d: %v", groupID, err)}, nil
	}
	return schemas.ActionResult{Success: true,
		Message: fmt.Sprintf("removed group %d", groupID)}, nil
}
