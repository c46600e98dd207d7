package eth

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type dataErr struct {
	msg  string
	data interface{}
}

func (e dataErr) Error() string          { return e.msg }
func (e dataErr) ErrorData() interface{} { return e.data }

func revertPayload(t *testing.T, selector []byte, typ string, v interface{}) []byte {
	t.Helper()
	at, err := abi.NewType(typ, "", nil)
	if err != nil {
		t.Fatalf("NewType: %v", err)
	}
	packed, err := abi.Arguments{{Type: at}}.Pack(v)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	return append(append([]byte{}, selector...), packed...)
}

var (
	errorSelector = []byte{0x08, 0xc3, 0x79, 0xa0}
	panicSelector = []byte{0x4e, 0x48, 0x7b, 0x71}
)

func TestClassifyError_DecodesRevertData(t *testing.T) {
	data := revertPayload(t, errorSelector, "string", "Only owner")
	err := ClassifyError("estimate gas", dataErr{msg: "execution reverted: Only owner", data: hexutil.Encode(data)})

	var re *RevertError
	if !errors.As(err, &re) {
		t.Fatalf("expected RevertError, got %T %v", err, err)
	}
	if re.Reason != "Only owner" {
		t.Fatalf("reason: got %q want %q", re.Reason, "Only owner")
	}
	if re.Broadcast {
		t.Fatalf("expected Broadcast=false")
	}
}

func TestClassifyError_RevertMessageWithoutData(t *testing.T) {
	err := ClassifyError("call", fmt.Errorf("wrapped: %w", errors.New("execution reverted: Username already exists")))

	var re *RevertError
	if !errors.As(err, &re) {
		t.Fatalf("expected RevertError, got %T %v", err, err)
	}
	if re.Reason != "Username already exists" {
		t.Fatalf("reason: got %q", re.Reason)
	}
}

func TestClassifyError_OtherErrorsAreRPCErrors(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
	err := ClassifyError("send transaction", cause)

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %T %v", err, err)
	}
	if rpcErr.Op != "send transaction" {
		t.Fatalf("op: got %q", rpcErr.Op)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected RPCError to unwrap to cause")
	}
	if IsRevert(err) {
		t.Fatalf("IsRevert: got true")
	}
}

func TestClassifyError_KeepsClassifiedErrors(t *testing.T) {
	te := &TimeoutError{}
	if got := ClassifyError("x", te); got != error(te) {
		t.Fatalf("expected same TimeoutError back, got %v", got)
	}
	if ClassifyError("x", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
}

func TestDecodeRevertReason(t *testing.T) {
	if got := DecodeRevertReason(nil); got != "" {
		t.Fatalf("empty: got %q", got)
	}

	panicData := revertPayload(t, panicSelector, "uint256", big.NewInt(0x11))
	if got := DecodeRevertReason(panicData); got == "" || strings.HasPrefix(got, "0x") {
		t.Fatalf("panic: got %q", got)
	}

	custom := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	if got := DecodeRevertReason(custom); got != "0xdeadbeef01" {
		t.Fatalf("custom: got %q want %q", got, "0xdeadbeef01")
	}
}
