package collector

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	modelClient "mmcagent/internal/model/client"
)

// Registry 客户端登记表（内存）
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*modelClient.ClientRecord
	now     func() time.Time
}

// NewRegistry 创建登记表
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*modelClient.ClientRecord),
		now:     time.Now,
	}
}

// Register 登记新客户端并分配身份标识
func (r *Registry) Register(deployTime interface{}) string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = &modelClient.ClientRecord{
		UUID:         id,
		DeployTime:   deployTime,
		RegisteredAt: r.now().Unix(),
	}
	return id
}

// Heartbeat 记录心跳，身份未知时返回false
func (r *Registry) Heartbeat(id, userAgent string, snapshot *modelClient.SystemInfoSnapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.clients[id]
	if !ok {
		return false
	}
	rec.LastHeartbeat = r.now().Unix()
	rec.Heartbeats++
	rec.UserAgent = userAgent
	rec.Snapshot = snapshot
	return true
}

// Revoke 注销客户端，之后的心跳会收到403
func (r *Registry) Revoke(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	return true
}

// Get 查询客户端
func (r *Registry) Get(id string) (modelClient.ClientRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.clients[id]
	if !ok {
		return modelClient.ClientRecord{}, false
	}
	return *rec, true
}

// List 按注册时间排序列出所有客户端
func (r *Registry) List() []modelClient.ClientRecord {
	r.mu.RLock()
	out := make([]modelClient.ClientRecord, 0, len(r.clients))
	for _, rec := range r.clients {
		out = append(out, *rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt != out[j].RegisteredAt {
			return out[i].RegisteredAt < out[j].RegisteredAt
		}
		return out[i].UUID < out[j].UUID
	})
	return out
}
