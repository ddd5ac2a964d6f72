package verifier_test

import (
	"context"
	"errors"
	"testing"

	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
	"github.com/petec4244/Ai3-Orchestrator/internal/verifier"
)

func TestVerify_CriterionSatisfied_Passes(t *testing.T) {
	v := verifier.New(nil)
	task := domain.Node{ID: "t1", Kind: domain.KindGeneral, SuccessCriteria: []string{"must contain FOO"}}
	artifact := domain.Artifact{ArtifactID: "a1", Content: "the answer is FOO, done."}

	verdict, err := v.Verify(context.Background(), task, artifact)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verdict.Passed || verdict.Score != 1 {
		t.Fatalf("expected a passing verdict, got %+v", verdict)
	}
}

func TestVerify_EmptyOutput_IsFatalRegardlessOfCriteriaCount(t *testing.T) {
	v := verifier.New(nil)
	task := domain.Node{ID: "t1", Kind: domain.KindGeneral, RepairBudget: 1}
	artifact := domain.Artifact{ArtifactID: "a1", Content: ""}

	verdict, err := v.Verify(context.Background(), task, artifact)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Passed {
		t.Fatal("empty output must never pass")
	}
	if verdict.RepairDirective == nil {
		t.Fatal("expected a repair directive since repair budget is available")
	}
}

func TestVerify_RefusalPhrase_FailsEvenWithNoCriteria(t *testing.T) {
	v := verifier.New(nil)
	task := domain.Node{ID: "t1", Kind: domain.KindGeneral}
	artifact := domain.Artifact{ArtifactID: "a1", Content: "I cannot help with that request."}

	verdict, err := v.Verify(context.Background(), task, artifact)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Passed {
		t.Fatal("a refusal phrase must fail verification")
	}
}

func TestVerify_ShortCodingOutput_FailsLengthFloor(t *testing.T) {
	v := verifier.New(nil)
	task := domain.Node{ID: "t1", Kind: domain.KindCoding}
	artifact := domain.Artifact{ArtifactID: "a1", Content: "ok done"}

	verdict, err := v.Verify(context.Background(), task, artifact)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Passed {
		t.Fatal("expected the coding word-count floor to fail this short artifact")
	}
}

func TestVerify_NoRepairBudget_OmitsRepairDirective(t *testing.T) {
	v := verifier.New(nil)
	task := domain.Node{ID: "t1", Kind: domain.KindGeneral, SuccessCriteria: []string{"must contain BAR"}, RepairBudget: 0}
	artifact := domain.Artifact{ArtifactID: "a1", Content: "no match here"}

	verdict, err := v.Verify(context.Background(), task, artifact)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Passed {
		t.Fatal("expected verdict to fail")
	}
	if verdict.RepairDirective != nil {
		t.Fatal("expected no repair directive when repair budget is exhausted")
	}
}

type stubRubric struct {
	passed bool
	reason string
	err    error
}

func (s stubRubric) Check(ctx context.Context, criterion, content string) (bool, string, error) {
	return s.passed, s.reason, s.err
}

func TestVerify_RubricChecker_OverridesHeuristic(t *testing.T) {
	v := verifier.New(stubRubric{passed: true})
	task := domain.Node{ID: "t1", Kind: domain.KindGeneral, SuccessCriteria: []string{"is creative and original"}}
	artifact := domain.Artifact{ArtifactID: "a1", Content: "a perfectly ordinary sentence"}

	verdict, err := v.Verify(context.Background(), task, artifact)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verdict.Passed {
		t.Fatal("expected the rubric's yes to pass despite the heuristic having no signal")
	}
}

func TestVerify_RubricError_WrapsInternalRubric(t *testing.T) {
	v := verifier.New(stubRubric{err: errors.New("upstream rubric call failed")})
	task := domain.Node{ID: "t1", Kind: domain.KindGeneral, SuccessCriteria: []string{"anything"}}
	artifact := domain.Artifact{ArtifactID: "a1", Content: "content"}

	_, err := v.Verify(context.Background(), task, artifact)
	if !errors.Is(err, domain.ErrInternalRubric) {
		t.Fatalf("expected ErrInternalRubric, got %v", err)
	}
}

func TestDoomLooping_DetectsIdenticalVerdictSequence(t *testing.T) {
	v := verifier.New(nil)
	verdict := domain.Verdict{Score: 0.2, Passed: false, FailureReasons: []string{"same every time"}}

	if v.DoomLooping("t1", verdict) {
		t.Fatal("should not report a doom loop before the threshold is reached")
	}
	if v.DoomLooping("t1", verdict) {
		t.Fatal("should not report a doom loop before the threshold is reached")
	}
	if !v.DoomLooping("t1", verdict) {
		t.Fatal("expected a doom loop once the threshold of identical verdicts is reached")
	}
}

func TestDoomLooping_DifferentVerdicts_NeverTrips(t *testing.T) {
	v := verifier.New(nil)
	for i := 0; i < 5; i++ {
		reason := "reason"
		if i%2 == 0 {
			reason = "other reason"
		}
		verdict := domain.Verdict{Score: 0.2, Passed: false, FailureReasons: []string{reason}}
		if v.DoomLooping("t1", verdict) {
			t.Fatal("alternating verdicts must never trip the doom loop detector")
		}
	}
}
