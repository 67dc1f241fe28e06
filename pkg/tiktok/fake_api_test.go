package tiktok

import "context"

// fakeAPI scripts the provider surface per call. Unset fields answer with
// permissive defaults.
type fakeAPI struct {
	exchangeResponse Payload
	exchangeErr      error
	refreshResponse  Payload
	refreshErr       error

	videoInit      func(mode string) (Payload, error)
	photoInit      func(mode string) (Payload, error)
	uploadErr      error
	finalizeVideo  func(mode string) (Payload, error)
	finalizePhotos func(mode string) (Payload, error)

	videoInitModes []string
	uploads        []string
	refreshCalls   int
}

func (f *fakeAPI) ExchangeCode(context.Context, string, string, string, string) (Payload, error) {
	return f.exchangeResponse, f.exchangeErr
}

func (f *fakeAPI) Refresh(context.Context, string, string, string) (Payload, error) {
	f.refreshCalls++
	return f.refreshResponse, f.refreshErr
}

func (f *fakeAPI) InitVideoUpload(_ context.Context, _, _, mode string, _ int64) (Payload, error) {
	f.videoInitModes = append(f.videoInitModes, mode)
	if f.videoInit != nil {
		return f.videoInit(mode)
	}
	return Payload{"upload_url": "https://upload.example/slot", "publish_id": "pub-1"}, nil
}

func (f *fakeAPI) FinalizeVideo(_ context.Context, _, _, _, mode string) (Payload, error) {
	if f.finalizeVideo != nil {
		return f.finalizeVideo(mode)
	}
	return Payload{"post_id": "post-1"}, nil
}

func (f *fakeAPI) InitPhotoUpload(_ context.Context, _, _, mode string, _ int) (Payload, error) {
	if f.photoInit != nil {
		return f.photoInit(mode)
	}
	return Payload{"upload_urls": []interface{}{"https://upload.example/1", "https://upload.example/2"}, "publish_id": "pub-p"}, nil
}

func (f *fakeAPI) FinalizePhotoUpload(_ context.Context, _, _, _, mode string) (Payload, error) {
	if f.finalizePhotos != nil {
		return f.finalizePhotos(mode)
	}
	return Payload{"post_id": "post-p"}, nil
}

func (f *fakeAPI) UploadBinary(_ context.Context, uploadURL, _, _ string) error {
	f.uploads = append(f.uploads, uploadURL)
	return f.uploadErr
}
