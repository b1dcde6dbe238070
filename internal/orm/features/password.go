package features

import (
	"golang.org/x/crypto/bcrypt"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
	"github.com/conduit-lang/docengine/internal/orm/hooks"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
)

const (
	// PasswordField holds the bcrypt hash
	PasswordField = "password"
	// HookHashPassword is the catalog name of Password.HashPassword
	HookHashPassword = "hashPassword"

	maxPasswordBytes = 72
)

// Password stores a bcrypt hash of the password property, which is never
// returned to callers
type Password struct {
	// Cost is the bcrypt cost, bcrypt.DefaultCost when zero
	Cost int
}

// Name implements Plugin
func (p *Password) Name() string { return "password" }

// Extend implements Plugin
func (p *Password) Extend(spec *schema.ModelSpec) error {
	if err := addProperty(spec, PasswordField, schema.PropertyDef{
		Type:  string(schema.TypeString),
		XMeta: map[string]interface{}{"readable": false},
	}); err != nil {
		return err
	}
	spec.AddCallback(string(hooks.ActionSave), string(hooks.StageBefore), HookHashPassword)
	return nil
}

// Register implements Plugin
func (p *Password) Register(catalog *hooks.Catalog) {
	catalog.Define(HookHashPassword, p.HashPassword)
}

// HashPassword replaces a new plain text password with its hash
func (p *Password) HashPassword(ctx *hooks.Context, doc store.Document) (store.Document, error) {
	plain, ok := doc[PasswordField].(string)
	if !ok || plain == "" {
		return nil, nil
	}
	if ctx.Changes != nil && !ctx.Changes.Changed(PasswordField) {
		return nil, nil
	}
	// only the stored hash itself passes through unhashed
	if stored, _ := ctx.Existing[PasswordField].(string); stored != "" && stored == plain {
		return nil, nil
	}
	if len(plain) > maxPasswordBytes {
		return nil, ormerrors.NewValidationError(ctx.ModelName(), PasswordField,
			"password exceeds maximum length of %d bytes", maxPasswordBytes)
	}

	cost := p.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return nil, err
	}
	return store.Document{PasswordField: string(hashed)}, nil
}

// CheckPassword compares a plain text password with the hash stored in doc
func CheckPassword(doc store.Document, plain string) bool {
	hash, ok := doc[PasswordField].(string)
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
