package graph

// StringStorage interns label strings. Ids are dense and never reused.
type StringStorage struct {
	byValue map[string]StringID
	values  []string
}

// NewStringStorage creates an empty string storage.
func NewStringStorage() *StringStorage {
	return &StringStorage{
		byValue: make(map[string]StringID),
	}
}

// Intern returns the id for s, adding it if necessary.
func (s *StringStorage) Intern(value string) StringID {
	if id, ok := s.byValue[value]; ok {
		return id
	}
	id := StringID(len(s.values))
	s.values = append(s.values, value)
	s.byValue[value] = id
	return id
}

// Lookup returns the id for value without adding it.
func (s *StringStorage) Lookup(value string) (StringID, bool) {
	id, ok := s.byValue[value]
	return id, ok
}

// Str resolves an id.
func (s *StringStorage) Str(id StringID) (string, bool) {
	if int(id) >= len(s.values) {
		return "", false
	}
	return s.values[id], true
}

// Len returns the number of interned strings.
func (s *StringStorage) Len() int {
	return len(s.values)
}

func (s *StringStorage) clone() *StringStorage {
	c := &StringStorage{
		byValue: make(map[string]StringID, len(s.byValue)),
		values:  make([]string, len(s.values)),
	}
	copy(c.values, s.values)
	for k, v := range s.byValue {
		c.byValue[k] = v
	}
	return c
}
