// Package booking は予約フローのドメインロジックを提供する。
package booking

import (
	"fmt"
	"sync"
)

// FlowState は予約フローの状態を表す。
type FlowState string

const (
	// FlowIdle は未送信の初期状態。
	FlowIdle FlowState = "idle"
	// FlowSubmitting は予約リクエスト送信中の状態。
	FlowSubmitting FlowState = "submitting"
	// FlowSucceeded は予約成立後の状態。
	FlowSucceeded FlowState = "succeeded"
	// FlowFailed は予約失敗後の状態。
	FlowFailed FlowState = "failed"
)

// Flow は1回の予約試行の状態遷移を追跡する。
// 有効な遷移は idle→submitting→{succeeded, failed} のみで、
// submitting中の再送信は拒否される。失敗後はリセットして再試行できる。
type Flow struct {
	mu    sync.Mutex
	state FlowState
}

// NewFlow は初期状態(idle)のFlowを生成する。
func NewFlow() *Flow {
	return &Flow{state: FlowIdle}
}

// State は現在の状態を返す。
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// begin はidleからsubmittingへ遷移する。
// 送信中の二重送信や完了後の再利用はエラーとなる。
func (f *Flow) begin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FlowIdle {
		return fmt.Errorf("booking flow is not idle: %s", f.state)
	}
	f.state = FlowSubmitting
	return nil
}

// finish はsubmittingから終端状態へ遷移する。
func (f *Flow) finish(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ok {
		f.state = FlowSucceeded
	} else {
		f.state = FlowFailed
	}
}

// Reset は失敗状態をidleへ戻し、再試行を可能にする。
// 成立済みフローはリセットできない。
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FlowFailed {
		f.state = FlowIdle
	}
}
