package main

import (
	"context"
	"fmt"
	"strings"

	"tracespool/internal/ipc"
	"tracespool/internal/queue"
)

type queueAPI interface {
	Stats(ctx context.Context) (ipc.QueueStats, error)
	List(ctx context.Context, statuses []string) ([]ipc.QueueItem, error)
	Describe(ctx context.Context, id string) (*ipc.QueueItem, error)
	Purge(ctx context.Context, statuses []string) (int, error)
	Cleanup(ctx context.Context) (int, error)
}

// --- IPC adapter ---

type queueIPCAdapter struct {
	client *ipc.Client
}

func (a *queueIPCAdapter) Stats(_ context.Context) (ipc.QueueStats, error) {
	resp, err := a.client.Status()
	if err != nil {
		return ipc.QueueStats{}, err
	}
	return resp.Stats, nil
}

func (a *queueIPCAdapter) List(_ context.Context, statuses []string) ([]ipc.QueueItem, error) {
	resp, err := a.client.QueueList(statuses)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (a *queueIPCAdapter) Describe(_ context.Context, id string) (*ipc.QueueItem, error) {
	resp, err := a.client.QueueDescribe(id)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, nil
		}
		return nil, err
	}
	return &resp.Item, nil
}

func (a *queueIPCAdapter) Purge(_ context.Context, statuses []string) (int, error) {
	resp, err := a.client.QueuePurge(statuses)
	if err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (a *queueIPCAdapter) Cleanup(_ context.Context) (int, error) {
	resp, err := a.client.QueueCleanup()
	if err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

// --- Direct spool adapter ---

type queueOfflineAdapter struct {
	manager *queue.Manager
}

func (a *queueOfflineAdapter) Stats(ctx context.Context) (ipc.QueueStats, error) {
	stats, err := a.manager.Stats(ctx)
	if err != nil {
		return ipc.QueueStats{}, err
	}
	return ipc.FromStats(stats), nil
}

func (a *queueOfflineAdapter) List(ctx context.Context, statuses []string) ([]ipc.QueueItem, error) {
	parsed, err := parseStatuses(statuses)
	if err != nil {
		return nil, err
	}
	items, err := a.manager.List(ctx, parsed...)
	if err != nil {
		return nil, err
	}
	out := make([]ipc.QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, ipc.FromQueueItem(item, false))
	}
	return out, nil
}

func (a *queueOfflineAdapter) Describe(ctx context.Context, id string) (*ipc.QueueItem, error) {
	item, found, err := a.manager.Get(ctx, id)
	if err != nil || !found {
		return nil, err
	}
	out := ipc.FromQueueItem(item, true)
	return &out, nil
}

func (a *queueOfflineAdapter) Purge(ctx context.Context, statuses []string) (int, error) {
	parsed, err := parseStatuses(statuses)
	if err != nil {
		return 0, err
	}
	return a.manager.Purge(ctx, parsed...)
}

func (a *queueOfflineAdapter) Cleanup(ctx context.Context) (int, error) {
	return a.manager.Cleanup(ctx)
}

func parseStatuses(values []string) ([]queue.Status, error) {
	out := make([]queue.Status, 0, len(values))
	for _, value := range values {
		status, ok := queue.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q (valid: pending, processing, failed, dead)", value)
		}
		out = append(out, status)
	}
	return out, nil
}
