package position

// Interpolate fills records whose detection failed (confidence <= 0).
//
// A gap bounded by valid records on both sides is filled by linear
// interpolation over the frame distance and marked ConfidenceInterpolated.
// Leading and trailing gaps copy their single valid neighbour and are marked
// ConfidenceCopied. Valid records are returned unchanged, and if no record is
// valid the input is returned as a copy.
func Interpolate(records []Record) []Record {
	result := make([]Record, len(records))
	copy(result, records)

	valid := validIndices(records)
	if len(valid) == 0 {
		return result
	}

	for i := range result {
		if result[i].Valid() {
			continue
		}

		prev, next := -1, -1
		for _, vi := range valid {
			if vi < i {
				prev = vi
			} else if vi > i {
				next = vi
				break
			}
		}

		dst := result[i].fields()
		switch {
		case prev >= 0 && next >= 0:
			t := float64(i-prev) / float64(next-prev)
			a := records[prev]
			b := records[next]
			fa, fb := a.fields(), b.fields()
			for k := range dst {
				*dst[k] = *fa[k] + t*(*fb[k]-*fa[k])
			}
			result[i].Confidence = ConfidenceInterpolated
		case prev >= 0:
			src := records[prev]
			copyFields(&result[i], &src)
			result[i].Confidence = ConfidenceCopied
		default:
			src := records[next]
			copyFields(&result[i], &src)
			result[i].Confidence = ConfidenceCopied
		}
	}

	return result
}

func copyFields(dst, src *Record) {
	d, s := dst.fields(), src.fields()
	for k := range d {
		*d[k] = *s[k]
	}
}
