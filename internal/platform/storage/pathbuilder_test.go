package storage

import "testing"

func TestBuildProofPhotoPath(t *testing.T) {
	path, err := BuildObjectPath(PurposeProofPhoto, PathParams{
		OrderID:   "ord_01J8",
		PhotoType: "pickup",
		FileName:  "01J8ZZ.jpg",
	})
	if err != nil {
		t.Fatalf("BuildObjectPath: %v", err)
	}
	if path != "orders/ord_01J8/proof/pickup/01J8ZZ.jpg" {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestBuildProofPhotoPathRejectsTraversal(t *testing.T) {
	cases := []PathParams{
		{OrderID: "../secrets", PhotoType: "pickup", FileName: "a.jpg"},
		{OrderID: "ord_1", PhotoType: "pickup/../..", FileName: "a.jpg"},
		{OrderID: "ord_1", PhotoType: "pickup", FileName: "../a.jpg"},
		{OrderID: "", PhotoType: "pickup", FileName: "a.jpg"},
		{OrderID: "ord_1", PhotoType: "", FileName: "a.jpg"},
	}
	for _, params := range cases {
		if _, err := BuildObjectPath(PurposeProofPhoto, params); err == nil {
			t.Fatalf("expected error for params %+v", params)
		}
	}
}

func TestBuildObjectPathUnknownPurpose(t *testing.T) {
	if _, err := BuildObjectPath("invoice", PathParams{}); err == nil {
		t.Fatalf("expected error for unknown purpose")
	}
}
