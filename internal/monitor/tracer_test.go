package monitor

import (
	"context"
	"testing"
)

func TestStartSpan(t *testing.T) {
	tr := NewTracer()

	ctx, span := tr.StartSpan(context.Background(), "execute",
		AttrExecID.String("abc"),
		AttrLanguage.String("go"),
	)
	if span == nil {
		t.Fatal("StartSpan returned nil span")
	}
	defer span.End()

	span.SetAttributes(
		AttrExitCode.Int(0),
		AttrDurationMS.Int64(42),
		AttrRiskScore.Float64(0.1),
		AttrPatchID.String("p-1"),
	)

	if got := SpanFromContext(ctx); got != span {
		t.Error("SpanFromContext did not return the started span")
	}
}
