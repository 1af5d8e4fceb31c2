package miniscript

// KeyTranslator maps a key (or key hash) identifier to a new identifier.
type KeyTranslator func(identifier string) (string, error)

// clone returns a deep copy of the tree.
func (a *AST) clone() *AST {
	c := *a
	if a.value != nil {
		c.value = append([]byte(nil), a.value...)
	}
	if a.args != nil {
		c.args = make([]*AST, len(a.args))
		for i, arg := range a.args {
			c.args[i] = arg.clone()
		}
	}
	return &c
}

// keyArgs returns the key arguments of pk_k, pk_h and multi.
func (a *AST) keyArgs() []*AST {
	switch a.identifier {
	case f_pk_k, f_pk_h:
		return a.args[:1]
	case f_multi:
		return a.args[1:]
	}
	return nil
}

// TranslateKeys returns a copy of the miniscript with every pk_k and multi key
// identifier replaced by fpk and every pk_h identifier replaced by fpkh. The
// first error of either function is returned and no tree is built.
//
// Keys of the copy are unresolved: ApplyVars must be called on it before
// Script or Satisfy.
func (a *AST) TranslateKeys(fpk, fpkh KeyTranslator) (*AST, error) {
	c := a.clone()
	_, err := c.apply(func(node *AST) (*AST, error) {
		translate := fpk
		if node.identifier == f_pk_h {
			translate = fpkh
		}
		for _, arg := range node.keyArgs() {
			id, err := translate(arg.identifier)
			if err != nil {
				return nil, err
			}
			arg.identifier = id
			arg.value = nil
		}
		return node, nil
	})
	if err != nil {
		return nil, err
	}

	// Unresolved keys count as compressed.
	for _, transform := range []func(*AST) (*AST, error){
		computeScriptLen, computeExtData,
	} {
		if _, err := c.apply(transform); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Keys returns the key identifiers of all pk_k, pk_h and multi fragments, in
// script order.
func (a *AST) Keys() []string {
	var keys []string
	_, _ = a.apply(func(node *AST) (*AST, error) {
		for _, arg := range node.keyArgs() {
			keys = append(keys, arg.identifier)
		}
		return node, nil
	})
	return keys
}
