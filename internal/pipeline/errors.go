package pipeline

import (
	"errors"
	"fmt"

	"signaldesk/internal/analysis/indicator"
	"signaldesk/internal/signal"
)

// ErrorKind 是 RunResult 中机器可读的失败分类。空值表示运行完全成功。
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindInvalidRequest   ErrorKind = "invalid_request"
	KindFetch            ErrorKind = "fetch_error"
	KindInsufficientData ErrorKind = "insufficient_data"
	KindPrompt           ErrorKind = "prompt_error"
	KindRecommend        ErrorKind = "recommend_error"
	KindDecode           ErrorKind = "decode_error"
	KindValidation       ErrorKind = "validation_error"
	KindStore            ErrorKind = "store_error"
	KindRolledBack       ErrorKind = "rolled_back"
	KindOrphanedRecord   ErrorKind = "orphaned_record"
	KindTradeFailed      ErrorKind = "trade_failed"
	KindDegradedBracket  ErrorKind = "degraded_bracket"
	KindInternal         ErrorKind = "internal_error"
)

// NeedsOperator 表示该结果需要人工介入，不能当作普通失败处理。
func (k ErrorKind) NeedsOperator() bool {
	return k == KindOrphanedRecord || k == KindDegradedBracket
}

// StageError 给错误附上所在阶段；recover 到的 panic 也包装成它。
type StageError struct {
	Stage Stage
	Err   error
	Panic bool
}

func (e *StageError) Error() string {
	if e.Panic {
		return fmt.Sprintf("%s: panic: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// OrphanedRecordError 表示快照写入失败后，补偿删除也失败，信号行残留在存储中。
type OrphanedRecordError struct {
	SignalID  uint
	WriteErr  error
	DeleteErr error
}

func (e *OrphanedRecordError) Error() string {
	return fmt.Sprintf("orphaned signal %d: indicator snapshot write failed (%v), rollback delete failed (%v)",
		e.SignalID, e.WriteErr, e.DeleteErr)
}

func (e *OrphanedRecordError) Unwrap() []error {
	return []error{e.WriteErr, e.DeleteErr}
}

// classify 把阶段错误映射为 ErrorKind。
func classify(stage Stage, err error) ErrorKind {
	var orphan *OrphanedRecordError
	var verr *signal.ValidationError
	var serr *StageError
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &serr) && serr.Panic:
		return KindInternal
	case errors.As(err, &orphan):
		return KindOrphanedRecord
	case errors.Is(err, indicator.ErrInsufficientData):
		return KindInsufficientData
	case errors.Is(err, signal.ErrDecode):
		return KindDecode
	case errors.As(err, &verr):
		return KindValidation
	}
	switch stage {
	case StageFetchCandles:
		return KindFetch
	case StageBuildIndicators:
		return KindInsufficientData
	case StageBuildPrompt:
		return KindPrompt
	case StageRecommend:
		return KindRecommend
	case StageDecode:
		return KindDecode
	case StageValidate:
		return KindValidation
	case StagePersistSignal, StagePersistIndicators:
		return KindStore
	case StageRollback:
		return KindRolledBack
	default:
		return KindInternal
	}
}
