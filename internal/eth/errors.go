package eth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

const revertedMsg = "execution reverted"

// RPCError is a transport or protocol failure while talking to the node.
//
// Synchronous failures before a transaction is broadcast (fee lookup, nonce, signing, rejected
// submission) are reported as RPCError too; they say nothing about contract behaviour.
type RPCError struct {
	Op  string
	Err error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("eth: %s: %v", e.Op, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// RevertError reports that the EVM rejected a call or transaction.
//
// Broadcast is false when the node reported the revert while estimating gas or executing an
// eth_call, and true when a mined receipt carried status 0.
type RevertError struct {
	Reason    string
	Data      []byte
	TxHash    common.Hash
	Broadcast bool
}

func (e *RevertError) Error() string {
	msg := revertedMsg
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Broadcast {
		return fmt.Sprintf("eth: tx %s: %s", e.TxHash.Hex(), msg)
	}
	return "eth: " + msg
}

// TimeoutError reports that no receipt was observed within the configured bound.
// The transaction may still be mined later; it is never resubmitted.
type TimeoutError struct {
	TxHash common.Hash
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("eth: tx %s: no receipt after %s", e.TxHash.Hex(), e.Waited)
}

// IsRevert reports whether err is, or wraps, a RevertError.
func IsRevert(err error) bool {
	var re *RevertError
	return errors.As(err, &re)
}

// ClassifyError maps an error returned by the node while performing op into a RevertError when
// the node reported an EVM revert, and into an RPCError otherwise. Already classified errors
// are returned as is.
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		re  *RevertError
		te  *TimeoutError
		rpe *RPCError
	)
	if errors.As(err, &re) || errors.As(err, &te) || errors.As(err, &rpe) {
		return err
	}

	if data, ok := revertData(err); ok {
		reason := DecodeRevertReason(data)
		if reason == "" {
			reason = reasonFromMessage(err.Error())
		}
		return &RevertError{Reason: reason, Data: data}
	}
	if strings.Contains(strings.ToLower(err.Error()), revertedMsg) {
		return &RevertError{Reason: reasonFromMessage(err.Error())}
	}
	return &RPCError{Op: op, Err: err}
}

// DecodeRevertReason decodes Error(string) and Panic(uint256) payloads. Unknown payloads
// (custom errors) are returned hex encoded.
func DecodeRevertReason(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	return hexutil.Encode(data)
}

func revertData(err error) ([]byte, bool) {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil, false
	}
	s, ok := de.ErrorData().(string)
	if !ok {
		return nil, false
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, false
	}
	return b, true
}

func reasonFromMessage(msg string) string {
	i := strings.Index(strings.ToLower(msg), revertedMsg)
	if i < 0 {
		return ""
	}
	rest := strings.TrimSpace(msg[i+len(revertedMsg):])
	rest = strings.TrimPrefix(rest, ":")
	return strings.TrimSpace(rest)
}
