package status

// Snapshot is the accumulated printer state: topic name -> last known fields.
// Topic values are usually map[string]any but may be any JSON value.
type Snapshot map[string]any

// FileMetadata is the side-channel metadata of the file being printed, as
// returned by server.files.metadata. It is replaced wholesale on update.
type FileMetadata map[string]any

// Merge folds a partial status fragment into current and returns it.
// For each topic present in both as field maps, fields are unioned with the
// incoming value winning; anything else is replaced. Only one level of
// nesting is merged. Nothing is ever removed from current.
func Merge(current, incoming Snapshot) Snapshot {
	if current == nil {
		current = make(Snapshot, len(incoming))
	}
	for topic, in := range incoming {
		inFields, inOK := in.(map[string]any)
		curFields, curOK := current[topic].(map[string]any)
		if inOK && curOK {
			merged := make(map[string]any, len(curFields)+len(inFields))
			for k, v := range curFields {
				merged[k] = v
			}
			for k, v := range inFields {
				merged[k] = v
			}
			current[topic] = merged
			continue
		}
		if inOK {
			current[topic] = cloneFields(inFields)
			continue
		}
		current[topic] = in
	}
	return current
}

// Clone returns a copy of s that shares no topic maps with it.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for topic, v := range s {
		if fields, ok := v.(map[string]any); ok {
			out[topic] = cloneFields(fields)
			continue
		}
		out[topic] = v
	}
	return out
}

// Topic returns the field map for a topic, or nil when absent or not a map.
func (s Snapshot) Topic(name string) map[string]any {
	fields, _ := s[name].(map[string]any)
	return fields
}

func cloneFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
