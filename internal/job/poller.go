package job

import (
	"context"
	"errors"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
)

// ErrStillProcessing 超时仍未进入终态
var ErrStillProcessing = errors.New("job still processing")

// StatusFunc 读取任务状态
type StatusFunc func(ctx context.Context, jobID string) (domain.GenerationJob, error)

// Poller 客户端轮询,指数退避并有总超时
type Poller struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Timeout    time.Duration
}

// DefaultPoller 默认轮询参数
func DefaultPoller() Poller {
	return Poller{
		Initial:    500 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2,
		Timeout:    5 * time.Minute,
	}
}

func (p Poller) normalized() Poller {
	d := DefaultPoller()
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	return p
}

// Wait 轮询直到终态
// 超时返回最后一次读到的任务和 ErrStillProcessing
func (p Poller) Wait(ctx context.Context, status StatusFunc, jobID string) (domain.GenerationJob, error) {
	p = p.normalized()
	deadline := time.Now().Add(p.Timeout)
	delay := p.Initial

	var last domain.GenerationJob
	for {
		job, err := status(ctx, jobID)
		if err != nil {
			return last, err
		}
		last = job
		if job.Status.Terminal() {
			return job, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return last, ErrStillProcessing
		}
		wait := delay
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.Max {
			delay = p.Max
		}
	}
}
