package domain

import "testing"

func TestReconcile(t *testing.T) {
	dirty := Scan(`<img src="a.jpg">`)
	clean := Scan(`<img src="a.jpg" alt="a cat">`)
	one := []FeedbackRecord{{ID: 7, PostID: 1}}
	two := []FeedbackRecord{{ID: 7, PostID: 1}, {ID: 9, PostID: 1}}

	testCases := []struct {
		name     string
		report   ScanReport
		to       Recipient
		existing []FeedbackRecord

		wantKind    ActionKind
		wantRecords int
		wantContent bool
		wantIntro   bool
	}{
		{
			name:     "clean with nothing to remove",
			report:   clean,
			wantKind: ActionDeleteAll,
		},
		{
			name:        "clean with old feedback",
			report:      clean,
			existing:    two,
			wantKind:    ActionDeleteAll,
			wantRecords: 2,
		},
		{
			name:        "defects on a fresh post",
			report:      dirty,
			to:          Recipient{DisplayName: "Ada"},
			wantKind:    ActionInsert,
			wantContent: true,
			wantIntro:   true,
		},
		{
			name:        "defects with existing feedback",
			report:      dirty,
			to:          Recipient{DisplayName: "Ada", IntroSent: true},
			existing:    one,
			wantKind:    ActionUpdateEach,
			wantRecords: 1,
			wantContent: true,
		},
		{
			name:        "defects with duplicate feedback",
			report:      dirty,
			to:          Recipient{DisplayName: "Ada"},
			existing:    two,
			wantKind:    ActionUpdateEach,
			wantRecords: 2,
			wantContent: true,
			wantIntro:   true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReconciler(NewReportBuilder(testBank(), &seqRand{}))
			action := r.Reconcile(1, tc.report, tc.to, tc.existing)

			if action.Kind != tc.wantKind {
				t.Errorf("kind: got %s, want %s", action.Kind, tc.wantKind)
			}
			if action.PostID != 1 {
				t.Errorf("post id: got %d, want 1", action.PostID)
			}
			if len(action.Records) != tc.wantRecords {
				t.Errorf("records: got %d, want %d", len(action.Records), tc.wantRecords)
			}
			if (action.Content != "") != tc.wantContent {
				t.Errorf("content presence: got %q", action.Content)
			}
			if action.IntroJustSent != tc.wantIntro {
				t.Errorf("intro just sent: got %v, want %v", action.IntroJustSent, tc.wantIntro)
			}
		})
	}
}
