package bullhorn

import (
	"context"

	"github.com/rotisserie/eris"
)

// SetClientPhone writes phone to the ClientContact's phone field.
func SetClientPhone(ctx context.Context, c Client, sess *Session, id int64, phone string) error {
	if phone == "" {
		return eris.New("bullhorn: phone is required")
	}
	if err := c.Update(ctx, sess, EntityClientContact, id, map[string]any{"phone": phone}); err != nil {
		return eris.Wrapf(err, "bullhorn: set client contact %d phone", id)
	}
	return nil
}

// SetLeadField writes phone to one phone-like field of a Lead.
func SetLeadField(ctx context.Context, c Client, sess *Session, id int64, phone string, field LeadPhoneField) error {
	if field != LeadFieldPhone && field != LeadFieldMobile {
		return eris.Errorf("bullhorn: unsupported lead field %q", field)
	}
	if phone == "" {
		return eris.New("bullhorn: phone is required")
	}
	if err := c.Update(ctx, sess, EntityLead, id, map[string]any{string(field): phone}); err != nil {
		return eris.Wrapf(err, "bullhorn: set lead %d %s", id, field)
	}
	return nil
}
