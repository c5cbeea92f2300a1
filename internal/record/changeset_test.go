package record

import (
	"reflect"
	"testing"
)

func TestChangesetNormalize(t *testing.T) {
	c := Changeset{
		Upserted: []string{"b", "a", "b"},
		Removed:  []string{"c", "c"},
	}
	got := c.Normalize()
	if !reflect.DeepEqual(got.Upserted, []string{"a", "b"}) {
		t.Errorf("Upserted = %v", got.Upserted)
	}
	if !reflect.DeepEqual(got.Removed, []string{"c"}) {
		t.Errorf("Removed = %v", got.Removed)
	}
	if got.IsEmpty() {
		t.Error("normalized changeset should not be empty")
	}
	if !(Changeset{}).IsEmpty() {
		t.Error("zero changeset should be empty")
	}
}
