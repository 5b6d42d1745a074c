package domain

// Info describes a successfully encoded output.
type Info struct {
	Format        string `json:"format"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Channels      int    `json:"channels"`
	Premultiplied bool   `json:"premultiplied"`
	Size          int64  `json:"size"`

	CropOffsetLeft *int `json:"crop_offset_left,omitempty"`
	CropOffsetTop  *int `json:"crop_offset_top,omitempty"`
	AttentionX     *int `json:"attention_x,omitempty"`
	AttentionY     *int `json:"attention_y,omitempty"`
	TrimOffsetLeft *int `json:"trim_offset_left,omitempty"`
	TrimOffsetTop  *int `json:"trim_offset_top,omitempty"`

	PageHeight     int `json:"page_height,omitempty"`
	Pages          int `json:"pages,omitempty"`
	TextAutofitDPI int `json:"text_autofit_dpi,omitempty"`

	Path      string `json:"path,omitempty"`
	ObjectKey string `json:"object_key,omitempty"`
}
