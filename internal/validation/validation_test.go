package validation

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type petRequest struct {
	Name         string   `json:"name" validate:"required,max=10"`
	ImageURLs    []string `json:"image_urls" validate:"required,min=1,max=2,dive,url"`
	MemorialDate string   `json:"memorial_date" validate:"omitempty,datetime=2006-01-02"`
	Interaction  string   `json:"interaction_type" validate:"omitempty,interaction"`
}

func TestStruct_Valid(t *testing.T) {
	err := Struct(petRequest{
		Name:         "Coco",
		ImageURLs:    []string{"https://img.test/a.jpg"},
		MemorialDate: "2024-05-01",
		Interaction:  "walking",
	})
	assert.NoError(t, err)
}

func TestStruct_ReportsJSONFieldNames(t *testing.T) {
	err := Struct(petRequest{
		Name:         "",
		ImageURLs:    []string{"not a url"},
		MemorialDate: "May 1st",
		Interaction:  "DANCING",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrValidation))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))

	byField := map[string]string{}
	for _, e := range verrs {
		byField[e.Field] = e.Message
	}
	assert.Equal(t, "is required", byField["name"])
	assert.Equal(t, "must be a valid URL", byField["image_urls[0]"])
	assert.Contains(t, byField["memorial_date"], "2006-01-02")
	assert.Contains(t, byField["interaction_type"], "FEEDING")
}

func TestStruct_SliceBounds(t *testing.T) {
	err := Struct(petRequest{Name: "Coco", ImageURLs: []string{}})
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, "image_urls", verrs[0].Field)
	assert.Equal(t, "must contain at least 1 items", verrs[0].Message)
}

// uploadedFile builds a real multipart file header the way net/http does.
func uploadedFile(t *testing.T, name string, data []byte) (*multipart.FileHeader, multipart.File) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/v1/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(MaxFileSize))
	header := req.MultipartForm.File["file"][0]
	f, err := header.Open()
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return header, f
}

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

func TestValidateImageUpload(t *testing.T) {
	header, f := uploadedFile(t, "coco.png", pngHeader)
	ct, errs := ValidateImageUpload(header, f)
	assert.Empty(t, errs)
	assert.Equal(t, "image/png", ct)

	header, f = uploadedFile(t, "notes.png", []byte("just some text pretending to be a picture"))
	_, errs = ValidateImageUpload(header, f)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "unsupported content type")

	header, f = uploadedFile(t, "empty.png", nil)
	_, errs = ValidateImageUpload(header, f)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "empty")
}
