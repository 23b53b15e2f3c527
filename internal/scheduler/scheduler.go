package scheduler

import (
	"context"
	"time"

	"signaldesk/internal/logger"
)

// AlignedScheduler 在每根 K 线收盘后 Offset 处触发任务。
type AlignedScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedScheduler(interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
	}
}

// Start 阻塞直到 ctx 结束。任务同步执行，耗时超过一个周期时跳过错过的触发点。
func (s *AlignedScheduler) Start(ctx context.Context, task func(context.Context)) {
	if task == nil {
		logger.Warnf("AlignedScheduler: task is nil, exit")
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("AlignedScheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("AlignedScheduler: negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("AlignedScheduler: started interval=%s offset=%s run_immediately=%v at=%s",
		s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task(ctx)
	}

	for {
		now := s.nowFn().UTC()
		nextClose, wakeAt, wait := s.nextTimes(now)
		logger.Debugf("AlignedScheduler: 距离K线收盘=%s (收盘=%s) 将在=%s 执行下一轮 | uptime=%s",
			nextClose.Sub(now).Truncate(time.Second),
			nextClose.Format(time.RFC3339),
			wakeAt.Format(time.RFC3339),
			now.Sub(startAt).Truncate(time.Second),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("AlignedScheduler: ctx done, exit")
			return
		case <-timer.C:
		}
		task(ctx)
	}
}

// nextTimes 返回下一根 K 线收盘时间、唤醒时间和需要等待的时长。
// 若当前仍处在上一根收盘后的 Offset 窗口内，唤醒点就是本窗口末尾。
func (s *AlignedScheduler) nextTimes(now time.Time) (nextClose, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	lastClose := now.Truncate(s.Interval)
	if wake := lastClose.Add(s.Offset); wake.After(now) {
		return lastClose, wake, wake.Sub(now)
	}
	nextClose = lastClose.Add(s.Interval)
	wakeAt = nextClose.Add(s.Offset)
	return nextClose, wakeAt, wakeAt.Sub(now)
}
