package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/lending"
)

func deposited(account, amount string) lending.Event {
	return lending.Event{
		Type:       lending.EventTypeCollateralDeposited,
		Attributes: map[string]string{"account": account, "amount": amount},
	}
}

func TestAppendAndQuery(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	ctx := context.Background()

	_, err = j.Append(ctx, deposited("0xAbC", "1"))
	require.NoError(t, err)
	_, err = j.Append(ctx, lending.Event{Type: lending.EventTypeDebtMinted, Attributes: map[string]string{"account": "0xabc", "amount": "5"}})
	require.NoError(t, err)
	_, err = j.Append(ctx, deposited("0xdef", "2"))
	require.NoError(t, err)

	all, err := j.Events(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, int64(3), all[0].Seq)
	require.Equal(t, "0xdef", all[0].Attributes["account"])

	mine, err := j.Events(ctx, Query{Account: "0xABC"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.Equal(t, lending.EventTypeDebtMinted, mine[0].Type)

	deposits, err := j.Events(ctx, Query{Type: lending.EventTypeCollateralDeposited, Limit: 1})
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	require.Equal(t, "2", deposits[0].Attributes["amount"])
}

func TestSequenceResumesAfterReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(dsn)
	require.NoError(t, err)
	j.Emit(deposited("0xabc", "1"))
	j.Emit(deposited("0xabc", "2"))
	require.NoError(t, j.Close())

	reopened, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	entry, err := reopened.Append(ctx, deposited("0xabc", "3"))
	require.NoError(t, err)
	require.Equal(t, int64(3), entry.Seq)
	require.NotEmpty(t, entry.ID)
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j.Emit(deposited("0xabc", "1"))
	if _, err := j.Events(context.Background(), Query{}); err == nil {
		t.Fatalf("expected closed journal to fail queries")
	}
}
