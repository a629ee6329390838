package types

import "errors"

// ============================================================================
// 錯誤定義
// ============================================================================
//
// 所有錯誤皆可恢復，呼叫端必須以 errors.Is 分支處理。
// 各套件以 fmt.Errorf("%w: ...") 包裝以附加上下文。

var (
	ErrDuplicateName       = errors.New("duplicate name")
	ErrUnknownPost         = errors.New("unknown post")
	ErrUnknownWorker       = errors.New("unknown worker")
	ErrUnknownModel        = errors.New("unknown model")
	ErrUnknownOrder        = errors.New("unknown order")
	ErrRoleMismatch        = errors.New("role mismatch")
	ErrPastDateImmutable   = errors.New("past date is immutable")
	ErrWorkerDoubleBooked  = errors.New("worker double booked")
	ErrHasFutureAssignment = errors.New("has future assignment")
	ErrEmptyStageList      = errors.New("empty stage list")
	ErrInvalidTime         = errors.New("invalid time")
	ErrUnknownStageType    = errors.New("unknown stage type")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrNegativeUnits       = errors.New("negative units")
	ErrExceedsQuantity     = errors.New("exceeds quantity")
	ErrAlreadyComplete     = errors.New("already complete")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrDuplicateName, "DuplicateName"},
	{ErrUnknownPost, "UnknownPost"},
	{ErrUnknownWorker, "UnknownWorker"},
	{ErrUnknownModel, "UnknownModel"},
	{ErrUnknownOrder, "UnknownOrder"},
	{ErrRoleMismatch, "RoleMismatch"},
	{ErrPastDateImmutable, "PastDateImmutable"},
	{ErrWorkerDoubleBooked, "WorkerDoubleBooked"},
	{ErrHasFutureAssignment, "HasFutureAssignment"},
	{ErrEmptyStageList, "EmptyStageList"},
	{ErrInvalidTime, "InvalidTime"},
	{ErrUnknownStageType, "UnknownStageType"},
	{ErrInvalidQuantity, "InvalidQuantity"},
	{ErrNegativeUnits, "NegativeUnits"},
	{ErrExceedsQuantity, "ExceedsQuantity"},
	{ErrAlreadyComplete, "AlreadyComplete"},
}

// KindOf 回傳錯誤所屬的分類名稱，非領域錯誤回傳空字串
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}

// ErrorForKind 由分類名稱取回哨兵錯誤（用於 gRPC 客戶端還原錯誤）
func ErrorForKind(kind string) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return nil
}
