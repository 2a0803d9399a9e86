package store

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"gorm.io/datatypes"
	"recipeshare/pkg/domain"
)

func TestRecipeModelConversion(t *testing.T) {
	in := domain.Recipe{
		ID:             "r1",
		Name:           "Soup",
		Description:    "warm",
		Body:           "boil water",
		Tags:           []string{"easy", "soup"},
		Image:          "recipes/2026/10/abc",
		AuthorUsername: "ann1",
		Created:        time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}
	got, err := recipeFromModel(recipeToModel(in))
	if err != nil {
		t.Fatalf("from model: %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("conversion mismatch:\n got %+v\nwant %+v", got, in)
	}

	noTags, err := recipeFromModel(RecipeModel{ID: "r2"})
	if err != nil || noTags.Tags == nil || len(noTags.Tags) != 0 {
		t.Fatalf("expected empty tag set, got %#v err=%v", noTags.Tags, err)
	}
}

func TestRecipeFromModelRejectsCorruptTags(t *testing.T) {
	_, err := recipeFromModel(RecipeModel{ID: "r3", Tags: datatypes.JSON(`{"not":"a list"}`)})
	if err == nil || !strings.Contains(err.Error(), "r3") {
		t.Fatalf("expected tag decode error naming the recipe, got %v", err)
	}
}
