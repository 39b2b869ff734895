package knowledge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate/vantage/pkg/entity"
)

func TestObserveThenAddConverges(t *testing.T) {
	b := New("Jane Doe")

	var wg sync.WaitGroup
	wins := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- b.ObserveThenAdd(
				func(v *View) bool { return !v.HasEmployer("Initech") },
				func(w *Writer) {
					w.AddEmployment(EmploymentRecord{
						Employer: "Initech", Start: "2019-03",
						Sources: []string{"prov-emp"}, Confidence: 0.8,
					})
				})
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one concurrent writer should win")
	b.Read(func(v *View) {
		assert.Len(t, v.Employment(), 1)
	})
}

func TestEmploymentMergesBySpan(t *testing.T) {
	b := New("")
	b.Write(func(w *Writer) {
		w.AddEmployment(EmploymentRecord{Employer: "Acme Corp", Start: "2015-01", Sources: []string{"a"}, Confidence: 0.6})
		w.AddEmployment(EmploymentRecord{Employer: "ACME corp", Start: "2015-01", Title: "Engineer", End: "2018-06", Sources: []string{"b"}, Confidence: 0.9})
	})
	b.Read(func(v *View) {
		recs := v.Employment()
		require.Len(t, recs, 1)
		assert.Equal(t, []string{"a", "b"}, recs[0].Sources)
		assert.Equal(t, 0.9, recs[0].Confidence)
		assert.Equal(t, "Engineer", recs[0].Title)
		assert.Equal(t, "2018-06", recs[0].End)
	})
}

func TestDOBConflict(t *testing.T) {
	b := New("")
	b.Write(func(w *Writer) {
		assert.False(t, w.SetDOB("1990-01-01"))
		assert.False(t, w.SetDOB("1990-01-01"))
		assert.True(t, w.SetDOB("1991-12-31"), "differing DOB must surface as a conflict")
	})
	b.Read(func(v *View) {
		assert.Equal(t, "1990-01-01", v.DOB(), "first confirmed value sticks")
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	b := New("Jane Doe")
	b.Write(func(w *Writer) {
		w.AddNameVariant("Jane M. Doe")
		w.AddAddress("12 Harbor Lane, Portland OR")
		w.AddJurisdiction("us-or")
		w.AddDiscovery(Discovery{
			Name: "Globex LLC", Kind: entity.KindOrganization,
			Relation: entity.RelEmployer, Strength: 0.7, Source: "prov-corp",
		})
	})

	data, err := b.Snapshot()
	require.NoError(t, err)

	restored := New("")
	require.NoError(t, restored.Restore(data))
	restored.Read(func(v *View) {
		assert.True(t, v.HasNameVariant("jane m. doe"))
		assert.Equal(t, []string{"US-OR"}, v.Jurisdictions())
		require.Len(t, v.Discoveries(), 1)
		assert.Equal(t, entity.RelEmployer, v.Discoveries()[0].Relation)
	})
}
