package scenario

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/contour/pkg/types"
)

// LockManager is the subset of the Edit-Lock Manager a Locker needs: the
// single atomic acquire and the matching release. Implemented by
// pkg/editlock.
type LockManager interface {
	Lock(ctx context.Context, pairs []types.TypeSubtype) (types.LockedData, error)
	Unlock(ctx context.Context, data types.LockedData, success bool) error
}

// ParsePairs turns a "type:subtype1,subtype2;type2" locker spec into the
// (type, subtype) pairs the Edit-Lock Manager's WHERE clause matches
// against. A type with no ":subtypes" suffix matches every subtype of that
// type.
func ParsePairs(spec string) ([]types.TypeSubtype, error) {
	var pairs []types.TypeSubtype
	for _, clause := range strings.Split(spec, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		typeName, subtypes, hasSubtypes := strings.Cut(clause, ":")
		typeName = strings.TrimSpace(typeName)
		if typeName == "" {
			return nil, fmt.Errorf("locker spec %q: empty type name", spec)
		}
		if !hasSubtypes {
			pairs = append(pairs, types.TypeSubtype{Type: typeName})
			continue
		}
		for _, subtype := range strings.Split(subtypes, ",") {
			subtype = strings.TrimSpace(subtype)
			if subtype == "" {
				continue
			}
			pairs = append(pairs, types.TypeSubtype{Type: typeName, Subtype: subtype})
		}
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("locker spec %q: no (type, subtype) pairs parsed", spec)
	}
	return pairs, nil
}

// CellLocker locks whole cells matching its (type, subtype) pairs and
// attaches the result to the task's cell set for the duration of its
// group node.
type CellLocker struct {
	Manager LockManager
	Pairs   []types.TypeSubtype
	locked  types.LockedData
	active  bool
}

func (l *CellLocker) Begin(ctx context.Context, taskID string, runner Runner) error {
	if l.active {
		return fmt.Errorf("cell locker already active for task %s", taskID)
	}
	locked, err := l.Manager.Lock(ctx, l.Pairs)
	if err != nil {
		return fmt.Errorf("lock cells: %w", err)
	}
	l.locked = locked
	l.active = true
	runner.AttachLockedData(taskID, locked)
	return nil
}

func (l *CellLocker) End(_ context.Context, taskID string, result bool, runner Runner) error {
	if !l.active {
		return nil
	}
	runner.DetachLockedData(taskID, l.locked)
	err := l.Manager.Unlock(context.Background(), l.locked, result)
	l.active = false
	l.locked = types.LockedData{}
	return err
}

func (l *CellLocker) String() string { return "cells:" + pairsString(l.Pairs) }

// ObjectLocker locks the individual objects matching its (type, subtype)
// pairs; like CellLocker, except that when Lock matched nothing it stays
// inactive and attaches nothing instead of holding an empty lock.
type ObjectLocker struct {
	Manager LockManager
	Pairs   []types.TypeSubtype
	locked  types.LockedData
	active  bool
}

func (l *ObjectLocker) Begin(ctx context.Context, taskID string, runner Runner) error {
	if l.active {
		return fmt.Errorf("object locker already active for task %s", taskID)
	}
	locked, err := l.Manager.Lock(ctx, l.Pairs)
	if err != nil {
		return fmt.Errorf("lock objects: %w", err)
	}
	if locked.Empty() {
		return nil
	}
	l.locked = locked
	l.active = true
	runner.AttachLockedData(taskID, locked)
	return nil
}

func (l *ObjectLocker) End(_ context.Context, taskID string, result bool, runner Runner) error {
	if !l.active {
		return nil
	}
	runner.DetachLockedData(taskID, l.locked)
	err := l.Manager.Unlock(context.Background(), l.locked, result)
	l.active = false
	l.locked = types.LockedData{}
	return err
}

func (l *ObjectLocker) String() string { return "objects:" + pairsString(l.Pairs) }

func pairsString(pairs []types.TypeSubtype) string {
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		if p.Subtype == "" {
			parts[i] = p.Type
		} else {
			parts[i] = p.Type + ":" + p.Subtype
		}
	}
	return strings.Join(parts, ",")
}
