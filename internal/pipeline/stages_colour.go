package pipeline

import (
	"fmt"
	"strings"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
)

func profileDepth(img engine.Image) int {
	if img.Interpretation().Is16Bit() {
		return 16
	}
	return 8
}

// importProfile moves images with an embedded profile into the working
// space. A profile that cannot be applied is reported and the image goes on
// untransformed.
func importProfile(e env, s state) (state, error) {
	op := e.op
	interp := s.img.Interpretation()
	s.profile = "srgb"
	if interp == engine.InterpretationRGB16 {
		s.profile = "p3"
	}
	meta := s.img.Meta()
	if op.KeepMetadata&domain.KeepICC != 0 && op.WithICCProfile == "" {
		s.inputProfile = meta.ICC
	}
	pipeline := engine.Interpretation(strings.ToLower(op.ColourspacePipeline))

	switch {
	case meta.HasProfile() && interp != engine.InterpretationLabS && interp != engine.InterpretationGrey16 &&
		pipeline != engine.InterpretationCMYK && !op.Input.IgnoreICC:
		next, err := e.engine.ICCTransform(s.img, engine.ICCOptions{OutputProfile: s.profile, Embedded: true, Depth: profileDepth(s.img)})
		if err != nil {
			s.warn("icc-import", "invalid embedded profile: %v", err)
			break
		}
		_ = s.set(next, nil)
	case interp == engine.InterpretationCMYK && pipeline != engine.InterpretationCMYK:
		next, err := e.engine.ICCTransform(s.img, engine.ICCOptions{OutputProfile: s.profile, InputProfile: "cmyk", Depth: profileDepth(s.img)})
		if err != nil {
			s.warn("icc-import", "cmyk input profile: %v", err)
			break
		}
		_ = s.set(next, nil)
	}

	if pipeline != "" && s.img.Interpretation() != pipeline {
		return s.with(e.engine.Colourspace(s.img, pipeline))
	}
	return s, nil
}

func grey(i engine.Interpretation) bool {
	return i == engine.InterpretationBW || i == engine.InterpretationGrey16
}

// colourspace converts to the requested output interpretation. The default
// sRGB request leaves single-channel images single-channel.
func colourspace(e env, s state) (state, error) {
	op := e.op
	want := engine.Interpretation(strings.ToLower(strings.TrimSpace(op.Colourspace)))
	if want == "" {
		want = engine.InterpretationSRGB
	}
	if s.img.Interpretation().Is16Bit() && s.img.Depth() != domain.DepthUshort {
		if err := s.set(e.engine.Cast(s.img, domain.DepthUshort)); err != nil {
			return s, err
		}
	}
	current := s.img.Interpretation()
	if current == want || (grey(current) && (want == engine.InterpretationSRGB || want == engine.InterpretationRGB16)) {
		return s, nil
	}
	if err := s.set(e.engine.Colourspace(s.img, want)); err != nil {
		return s, err
	}

	if op.KeepMetadata&domain.KeepICC != 0 &&
		!strings.EqualFold(op.ColourspacePipeline, string(engine.InterpretationCMYK)) &&
		op.WithICCProfile == "" && s.img.Meta().HasProfile() {
		next, err := e.engine.ICCTransform(s.img, engine.ICCOptions{OutputProfile: s.profile, Embedded: true, Depth: profileDepth(s.img)})
		if err != nil {
			s.warn("colourspace", "output profile: %v", err)
			return s, nil
		}
		_ = s.set(next, nil)
	}
	return s, nil
}

// extractChannel keeps one band. Index 3 on an image whose alpha sits at a
// lower index selects that alpha band.
func extractChannel(e env, s state) (state, error) {
	channel := e.op.ExtractChannel
	if channel < 0 {
		return s, nil
	}
	bands := s.img.Bands()
	if channel >= bands {
		if channel == 3 && s.img.HasAlpha() {
			channel = bands - 1
		} else {
			return s, fmt.Errorf("%w: cannot extract channel %d from image with channels 0-%d", domain.ErrChannelOutOfRange, channel, bands-1)
		}
	}
	interp := engine.InterpretationBW
	if s.img.Interpretation().Is16Bit() {
		interp = engine.InterpretationGrey16
	}
	if err := s.set(e.engine.ExtractBand(s.img, channel, 1)); err != nil {
		return s, err
	}
	return s.with(e.engine.SetInterpretation(s.img, interp))
}

// exportProfile applies an explicit output profile, or reattaches the input
// profile when it is being kept.
func exportProfile(e env, s state) (state, error) {
	op := e.op
	if op.WithICCProfile != "" {
		next, err := e.engine.ICCTransform(s.img, engine.ICCOptions{OutputProfile: op.WithICCProfile, Embedded: true, Depth: profileDepth(s.img)})
		if err != nil {
			s.warn("icc-export", "invalid profile %s: %v", op.WithICCProfile, err)
			return s, nil
		}
		return s.with(next, nil)
	}
	if op.KeepMetadata&domain.KeepICC != 0 && len(s.inputProfile) > 0 {
		profile := s.inputProfile
		return s.with(e.engine.SetMeta(s.img, func(m *engine.Meta) { m.ICC = profile }))
	}
	return s, nil
}

func negate(e env, s state) (state, error) {
	if !e.op.Negate {
		return s, nil
	}
	return s.with(e.engine.Negate(s.img, e.op.NegateAlpha))
}

// metadata applies the orientation, density and EXIF overrides. An image
// that was turned upright from its orientation tag is tagged upright.
func metadata(e env, s state) (state, error) {
	op := e.op
	if !s.autoRotate && op.WithMetadataOrientation <= 0 && op.WithMetadataDensity <= 0 && op.WithExif == nil {
		return s, nil
	}
	return s.with(e.engine.SetMeta(s.img, func(m *engine.Meta) {
		if s.autoRotate {
			m.Orientation = 1
		}
		if op.WithMetadataOrientation > 0 {
			m.Orientation = op.WithMetadataOrientation
		}
		if op.WithMetadataDensity > 0 {
			m.Density = op.WithMetadataDensity
		}
		if op.WithExif != nil {
			fields := make(map[string]string, len(op.WithExif))
			if op.WithExifMerge {
				for k, v := range m.ExifFields {
					fields[k] = v
				}
			}
			for k, v := range op.WithExif {
				fields[k] = v
			}
			m.ExifFields = fields
		}
	}))
}

// animation stamps the final frame layout and any delay or loop override.
func animation(e env, s state) (state, error) {
	op := e.op
	pageHeight, pages := s.pageHeight, s.pages
	if !s.multiPage() {
		pageHeight, pages = s.img.Height(), 1
	}
	return s.with(e.engine.SetMeta(s.img, func(m *engine.Meta) {
		m.PageHeight, m.Pages = pageHeight, pages
		if pages > 1 && len(op.Delay) > 0 {
			m.Delay = append([]int(nil), op.Delay...)
		}
		if pages > 1 && op.Loop >= 0 {
			m.Loop = op.Loop
		}
	}))
}

func encode(e env, s state) (state, error) {
	out, err := e.encoder.Encode(e.ctx, s.img, s.format, e.encodeRequest(s.inputType))
	if err != nil {
		return s, err
	}
	s.output = out
	return s, nil
}
