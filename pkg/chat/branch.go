package chat

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// BranchItem is one alternative within a branch, optionally continued by a
// follow-up branch.
type BranchItem struct {
	Request *RequestModel
	Next    *Branch
}

// BranchChangeEvent fires when a branch's active alternative changes. Item
// is nil when no alternative is active.
type BranchChangeEvent struct {
	Branch *Branch
	Item   *BranchItem
}

// Branch holds the ordered alternatives at one point of the conversation
// tree. One alternative is active; the conversation continues through its
// Next branch.
type Branch struct {
	id          string
	hierarchy   *Hierarchy
	previous    *Branch
	items       []*BranchItem
	activeIndex int
}

func newBranch(hierarchy *Hierarchy, previous *Branch) *Branch {
	return &Branch{
		id:          uuid.NewString(),
		hierarchy:   hierarchy,
		previous:    previous,
		activeIndex: -1,
	}
}

func (b *Branch) ID() string        { return b.id }
func (b *Branch) Previous() *Branch { return b.previous }

// ActiveIndex returns the index of the active alternative, -1 when the
// branch is empty.
func (b *Branch) ActiveIndex() int { return b.activeIndex }

// Items returns a snapshot of the branch's alternatives.
func (b *Branch) Items() []*BranchItem {
	items := make([]*BranchItem, len(b.items))
	copy(items, b.items)
	return items
}

// Get returns the active request. It fails on an empty branch or when no
// alternative is active.
func (b *Branch) Get() (*RequestModel, error) {
	if b.activeIndex < 0 || b.activeIndex >= len(b.items) {
		return nil, errors.Errorf("branch %s has no active item (index %d of %d items)", b.id, b.activeIndex, len(b.items))
	}
	return b.items[b.activeIndex].Request, nil
}

// Next returns the branch continuing the conversation after the active
// alternative, or nil.
func (b *Branch) Next() *Branch {
	if b.activeIndex < 0 || b.activeIndex >= len(b.items) {
		return nil
	}
	return b.items[b.activeIndex].Next
}

func (b *Branch) setActive(index int) {
	b.activeIndex = index
	var item *BranchItem
	if index >= 0 && index < len(b.items) {
		item = b.items[index]
	}
	b.hierarchy.notifyChange(BranchChangeEvent{Branch: b, Item: item})
}

// Add appends a request as a new alternative and makes it active.
func (b *Branch) Add(request *RequestModel) {
	b.items = append(b.items, &BranchItem{Request: request})
	b.setActive(len(b.items) - 1)
}

// Remove deletes the alternative holding the request with the given id.
//
// The active index moves down when an item at or before it is removed, so
// the nearest preceding alternative stays active. Removing the sole
// remaining item leaves the index at -1 without firing a change
// notification; every other removal fires one.
func (b *Branch) Remove(requestID string) {
	index := -1
	for i, item := range b.items {
		if item.Request.ID() == requestID {
			index = i
			break
		}
	}
	if index == -1 {
		return
	}

	b.items = append(b.items[:index], b.items[index+1:]...)

	if len(b.items) == 0 {
		b.activeIndex = -1
		return
	}

	if index <= b.activeIndex {
		b.setActive(b.activeIndex - 1)
		return
	}
	b.setActive(b.activeIndex)
}

// Continue extends the conversation after the active alternative with a new
// branch holding the request. On an empty branch the request becomes the
// first alternative instead.
func (b *Branch) Continue(request *RequestModel) (*Branch, error) {
	if len(b.items) == 0 {
		b.Add(request)
		return b, nil
	}

	if b.activeIndex < 0 || b.activeIndex >= len(b.items) {
		return nil, errors.Errorf("no active item to continue from in branch %s (index %d)", b.id, b.activeIndex)
	}

	next := newBranch(b.hierarchy, b)
	next.items = []*BranchItem{{Request: request}}
	next.activeIndex = 0
	b.items[b.activeIndex].Next = next
	return next, nil
}

// Enable makes the alternative holding the given request active.
func (b *Branch) Enable(requestID string) *BranchItem {
	for i, item := range b.items {
		if item.Request.ID() == requestID {
			b.setActive(i)
			return item
		}
	}
	return nil
}

// EnablePrevious activates the preceding alternative, staying put at the
// first one.
func (b *Branch) EnablePrevious() *BranchItem {
	if b.activeIndex > 0 {
		b.setActive(b.activeIndex - 1)
		return b.items[b.activeIndex]
	}
	if len(b.items) == 0 {
		return nil
	}
	return b.items[0]
}

// EnableNext activates the following alternative, staying put at the last
// one.
func (b *Branch) EnableNext() *BranchItem {
	if b.activeIndex >= 0 && b.activeIndex < len(b.items)-1 {
		b.setActive(b.activeIndex + 1)
	}
	if b.activeIndex < 0 || b.activeIndex >= len(b.items) {
		return nil
	}
	return b.items[b.activeIndex]
}

// SucceedingBranches returns this branch and every branch reachable through
// the active alternatives after it.
func (b *Branch) SucceedingBranches() []*Branch {
	branches := []*Branch{}
	for current := b; current != nil; current = current.Next() {
		branches = append(branches, current)
	}
	return branches
}

// Hierarchy is the tree of branches forming a conversation's edit history.
type Hierarchy struct {
	root        *Branch
	onDidChange emitter[BranchChangeEvent]
}

func NewHierarchy() *Hierarchy {
	h := &Hierarchy{}
	h.root = newBranch(h, nil)
	return h
}

func (h *Hierarchy) Root() *Branch { return h.root }

// OnDidChange registers an observer for active-branch changes and returns
// its unsubscribe function.
func (h *Hierarchy) OnDidChange(handler func(BranchChangeEvent)) func() {
	return h.onDidChange.listen(handler)
}

func (h *Hierarchy) notifyChange(event BranchChangeEvent) {
	h.onDidChange.fire(event)
}

// Append adds the request at the tail of the active path: the root branch
// when the hierarchy is empty, a continuation of the last active branch
// otherwise.
func (h *Hierarchy) Append(request *RequestModel) (*Branch, error) {
	branches := h.ActiveBranches()
	if len(branches) == 0 {
		h.root.Add(request)
		return h.root, nil
	}
	return branches[len(branches)-1].Continue(request)
}

// ActiveBranches walks the active path from the root.
func (h *Hierarchy) ActiveBranches() []*Branch {
	branches := []*Branch{}
	for current := h.root; current != nil && len(current.items) > 0; current = current.Next() {
		branches = append(branches, current)
	}
	return branches
}

// ActiveRequests returns the requests along the active path.
func (h *Hierarchy) ActiveRequests() []*RequestModel {
	branches := h.ActiveBranches()
	requests := make([]*RequestModel, 0, len(branches))
	for _, branch := range branches {
		request, err := branch.Get()
		if err != nil {
			continue
		}
		requests = append(requests, request)
	}
	return requests
}

// AllRequests returns every request in every branch, deduplicated by id in
// depth-first order.
func (h *Hierarchy) AllRequests() []*RequestModel {
	seen := map[string]bool{}
	requests := []*RequestModel{}
	var walk func(branch *Branch)
	walk = func(branch *Branch) {
		for _, item := range branch.items {
			if !seen[item.Request.ID()] {
				seen[item.Request.ID()] = true
				requests = append(requests, item.Request)
			}
			if item.Next != nil {
				walk(item.Next)
			}
		}
	}
	walk(h.root)
	return requests
}

// FindBranch returns the branch holding the request with the given id.
func (h *Hierarchy) FindBranch(requestID string) *Branch {
	return findInBranch(h.root, requestID)
}

// FindRequest returns the request with the given id anywhere in the tree.
func (h *Hierarchy) FindRequest(requestID string) *RequestModel {
	branch := findInBranch(h.root, requestID)
	if branch == nil {
		return nil
	}
	for _, item := range branch.items {
		if item.Request.ID() == requestID {
			return item.Request
		}
	}
	return nil
}

func findInBranch(branch *Branch, requestID string) *Branch {
	for _, item := range branch.items {
		if item.Request.ID() == requestID {
			return branch
		}
	}
	for _, item := range branch.items {
		if item.Next != nil {
			if found := findInBranch(item.Next, requestID); found != nil {
				return found
			}
		}
	}
	return nil
}
