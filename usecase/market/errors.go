package market

import "errors"

var (
	// ErrNoProvider はウォレットプロバイダが設定されていない
	ErrNoProvider = errors.New("no wallet provider configured")
	// ErrWallet はウォレットがアカウントへのアクセスや署名者の提供を拒否した
	ErrWallet = errors.New("wallet connection failed")
	// ErrNotConnected は接続前に操作しようとした
	ErrNotConnected = errors.New("wallet not connected")
	// ErrNotOwner はオーナー専用の操作をオーナー以外が行おうとした
	ErrNotOwner = errors.New("access denied: only the owner can perform this action")
	// ErrInvalidInput は送信前の入力チェックで弾かれた
	ErrInvalidInput = errors.New("invalid input")
	// ErrRefundRejected は返金の失敗。原因はクライアント側では区別できない
	ErrRefundRejected = errors.New("refund failed: the timeout period may not have passed yet, or you are not authorized")
	// ErrAmountOverflow は支払い総額が uint256 に収まらない
	ErrAmountOverflow = errors.New("total amount exceeds uint256")
)
