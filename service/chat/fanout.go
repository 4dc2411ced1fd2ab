package chat

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"MissionChat/logger"
	"MissionChat/tools/safe"
)

type fanoutJob struct {
	room    string
	members []*Client
	skip    *Client
	frame   []byte
}

// Fanout 按房间哈希到固定 worker，同一房间的帧保持发布顺序
type Fanout struct {
	queues  []chan fanoutJob
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{queues: make([]chan fanoutJob, workers)}
	for i := range f.queues {
		q := make(chan fanoutJob, queue)
		f.queues[i] = q
		f.wg.Add(1)
		go f.work(q)
	}
	return f
}

func (f *Fanout) work(q chan fanoutJob) {
	defer f.wg.Done()
	for job := range q {
		if err := safe.Run(func() { deliver(job) }); err != nil {
			logger.Error("fanout job panicked", zap.String("room", job.room), zap.Error(err))
		}
	}
}

func deliver(job fanoutJob) {
	for _, c := range job.members {
		if c == job.skip {
			continue
		}
		// 慢客户端直接丢帧，不阻塞同房间其他成员
		if !c.Enqueue(job.frame) {
			logger.Debug("drop frame for slow client",
				zap.String("room", job.room), zap.String("conn", c.ConnID))
		}
	}
}

// Submit 非阻塞；worker 队列满时丢弃整个任务
func (f *Fanout) Submit(room string, members []*Client, skip *Client, frame []byte) bool {
	if len(members) == 0 || len(frame) == 0 {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	q := f.queues[xxhash.Sum64String(room)%uint64(len(f.queues))]
	select {
	case q <- fanoutJob{room: room, members: members, skip: skip, frame: frame}:
		return true
	default:
		f.dropped.Add(1)
		logger.Warn("fanout queue full, drop broadcast", zap.String("room", room), zap.Int("members", len(members)))
		return false
	}
}

func (f *Fanout) Dropped() int64 { return f.dropped.Load() }

// Close 停止接收并等待已排队的任务投递完
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for _, q := range f.queues {
		close(q)
	}
	f.mu.Unlock()
	f.wg.Wait()
}
