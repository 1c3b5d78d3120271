package workspace

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/groupssettings/v1"
	"google.golang.org/api/option"

	apperrors "github.com/districtscouts/roster/pkg/errors"
	"github.com/districtscouts/roster/pkg/logger"
	"github.com/districtscouts/roster/pkg/metrics"
)

const (
	defaultCustomer = "my_customer"
	listPageSize    = 200
)

// GoogleConfig configures the Admin SDK client.
type GoogleConfig struct {
	CredentialsFile string
	CredentialsJSON []byte
	// Subject is the admin account impersonated through domain-wide delegation.
	Subject           string
	Customer          string
	RequestsPerSecond float64
}

// GoogleDirectory implements Directory against the Admin SDK and Groups Settings APIs.
type GoogleDirectory struct {
	admin    *admin.Service
	settings *groupssettings.Service
	customer string
	limiter  *rate.Limiter
	log      *zap.Logger
}

// NewGoogleDirectory builds a directory client. When opts is empty, service account credentials
// from cfg are used; otherwise opts are passed through unchanged.
func NewGoogleDirectory(ctx context.Context, cfg GoogleConfig, opts ...option.ClientOption) (*GoogleDirectory, error) {
	if len(opts) == 0 {
		client, err := delegatedClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = []option.ClientOption{option.WithHTTPClient(client)}
	}

	adminSvc, err := admin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("workspace: admin service: %w", err)
	}
	settingsSvc, err := groupssettings.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("workspace: groups settings service: %w", err)
	}

	customer := strings.TrimSpace(cfg.Customer)
	if customer == "" {
		customer = defaultCustomer
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &GoogleDirectory{
		admin:    adminSvc,
		settings: settingsSvc,
		customer: customer,
		limiter:  rate.NewLimiter(limit, 1),
		log:      logger.WithModule("workspace"),
	}, nil
}

func delegatedClient(ctx context.Context, cfg GoogleConfig) (_ *http.Client, err error) {
	raw := cfg.CredentialsJSON
	if len(raw) == 0 {
		if strings.TrimSpace(cfg.CredentialsFile) == "" {
			return nil, apperrors.ErrPrecondition.Withf("workspace credentials are not configured")
		}
		raw, err = os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("workspace: read credentials: %w", err)
		}
	}

	jwtConfig, err := google.JWTConfigFromJSON(raw,
		admin.AdminDirectoryUserReadonlyScope,
		admin.AdminDirectoryGroupScope,
		admin.AdminDirectoryGroupMemberScope,
		groupssettings.AppsGroupsSettingsScope,
	)
	if err != nil {
		return nil, fmt.Errorf("workspace: parse credentials: %w", err)
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		return nil, apperrors.ErrPrecondition.Withf("workspace subject (delegated admin) is not configured")
	}
	jwtConfig.Subject = cfg.Subject
	return jwtConfig.Client(ctx), nil
}

func (d *GoogleDirectory) call(ctx context.Context, op string, fn func() error) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := fn(); err != nil {
		metrics.ExternalRequests.WithLabelValues("workspace", "error").Inc()
		d.log.Debug("directory call failed", zap.String("op", op), zap.Error(err))
		return apperrors.ErrExternal.Withf("workspace %s failed", op).WithInternal(err)
	}
	metrics.ExternalRequests.WithLabelValues("workspace", "ok").Inc()
	return nil
}

func (d *GoogleDirectory) ListUsers(ctx context.Context) ([]AccountInfo, error) {
	return CollectPages(ctx, func(ctx context.Context, token string) (Page[AccountInfo], error) {
		var resp *admin.Users
		err := d.call(ctx, "users.list", func() (err error) {
			resp, err = d.admin.Users.List().
				Customer(d.customer).
				MaxResults(listPageSize).
				OrderBy("email").
				PageToken(token).
				Context(ctx).
				Do()
			return err
		})
		if err != nil {
			return Page[AccountInfo]{}, err
		}

		page := Page[AccountInfo]{NextToken: resp.NextPageToken}
		for _, user := range resp.Users {
			if user != nil {
				page.Items = append(page.Items, accountFromAPI(user))
			}
		}
		return page, nil
	})
}

func (d *GoogleDirectory) ListGroups(ctx context.Context) ([]GroupInfo, error) {
	return CollectPages(ctx, func(ctx context.Context, token string) (Page[GroupInfo], error) {
		var resp *admin.Groups
		err := d.call(ctx, "groups.list", func() (err error) {
			resp, err = d.admin.Groups.List().
				Customer(d.customer).
				MaxResults(listPageSize).
				PageToken(token).
				Context(ctx).
				Do()
			return err
		})
		if err != nil {
			return Page[GroupInfo]{}, err
		}

		page := Page[GroupInfo]{NextToken: resp.NextPageToken}
		for _, group := range resp.Groups {
			if group != nil {
				page.Items = append(page.Items, groupFromAPI(group))
			}
		}
		return page, nil
	})
}

func (d *GoogleDirectory) ListMembers(ctx context.Context, groupKey string) ([]MemberInfo, error) {
	return CollectPages(ctx, func(ctx context.Context, token string) (Page[MemberInfo], error) {
		var resp *admin.Members
		err := d.call(ctx, "members.list", func() (err error) {
			resp, err = d.admin.Members.List(groupKey).
				MaxResults(listPageSize).
				PageToken(token).
				Context(ctx).
				Do()
			return err
		})
		if err != nil {
			return Page[MemberInfo]{}, err
		}

		page := Page[MemberInfo]{NextToken: resp.NextPageToken}
		for _, member := range resp.Members {
			if member == nil {
				continue
			}
			page.Items = append(page.Items, MemberInfo{
				ID:    member.Id,
				Email: member.Email,
				Role:  MemberRole(member.Role),
				Type:  member.Type,
			})
		}
		return page, nil
	})
}

func (d *GoogleDirectory) InsertGroup(ctx context.Context, group GroupInfo) (GroupInfo, error) {
	var created *admin.Group
	err := d.call(ctx, "groups.insert", func() (err error) {
		created, err = d.admin.Groups.Insert(&admin.Group{
			Email:       group.Email,
			Name:        group.Name,
			Description: group.Description,
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return GroupInfo{}, err
	}
	return groupFromAPI(created), nil
}

func (d *GoogleDirectory) PatchGroup(ctx context.Context, groupKey, name, description string) error {
	return d.call(ctx, "groups.patch", func() error {
		_, err := d.admin.Groups.Patch(groupKey, &admin.Group{
			Name:            name,
			Description:     description,
			ForceSendFields: []string{"Description"},
		}).Context(ctx).Do()
		return err
	})
}

func (d *GoogleDirectory) GetGroupSettings(ctx context.Context, groupKey string) (GroupSettings, error) {
	var settings *groupssettings.Groups
	err := d.call(ctx, "groupssettings.get", func() (err error) {
		settings, err = d.settings.Groups.Get(groupKey).Context(ctx).Do()
		return err
	})
	if err != nil {
		return GroupSettings{}, err
	}
	return GroupSettings{WhoCanPostMessage: settings.WhoCanPostMessage}, nil
}

func (d *GoogleDirectory) UpdateGroupSettings(ctx context.Context, groupKey string, settings GroupSettings) error {
	return d.call(ctx, "groupssettings.patch", func() error {
		_, err := d.settings.Groups.Patch(groupKey, &groupssettings.Groups{
			WhoCanPostMessage: settings.WhoCanPostMessage,
		}).Context(ctx).Do()
		return err
	})
}

func (d *GoogleDirectory) InsertMember(ctx context.Context, groupKey, email string, role MemberRole) error {
	return d.call(ctx, "members.insert", func() error {
		_, err := d.admin.Members.Insert(groupKey, &admin.Member{Email: email, Role: string(role)}).Context(ctx).Do()
		return err
	})
}

func (d *GoogleDirectory) UpdateMemberRole(ctx context.Context, groupKey, memberKey string, role MemberRole) error {
	return d.call(ctx, "members.patch", func() error {
		_, err := d.admin.Members.Patch(groupKey, memberKey, &admin.Member{Role: string(role)}).Context(ctx).Do()
		return err
	})
}

func (d *GoogleDirectory) DeleteMember(ctx context.Context, groupKey, memberKey string) error {
	return d.call(ctx, "members.delete", func() error {
		return d.admin.Members.Delete(groupKey, memberKey).Context(ctx).Do()
	})
}

func accountFromAPI(user *admin.User) AccountInfo {
	info := AccountInfo{
		ID:                        user.Id,
		PrimaryEmail:              user.PrimaryEmail,
		Aliases:                   append([]string(nil), user.Aliases...),
		Suspended:                 user.Suspended,
		Archived:                  user.Archived,
		IsAdmin:                   user.IsAdmin,
		ChangePasswordAtNextLogin: user.ChangePasswordAtNextLogin,
		IsEnrolledIn2SV:           user.IsEnrolledIn2Sv,
		IsEnforcedIn2SV:           user.IsEnforcedIn2Sv,
		OrgUnitPath:               user.OrgUnitPath,
		LastLoginAt:               parseLoginTime(user.LastLoginTime),
	}
	if user.Name != nil {
		info.GivenName = user.Name.GivenName
		info.FamilyName = user.Name.FamilyName
	}
	return info
}

func groupFromAPI(group *admin.Group) GroupInfo {
	if group == nil {
		return GroupInfo{}
	}
	return GroupInfo{
		ID:                 group.Id,
		Email:              group.Email,
		Name:               group.Name,
		Description:        group.Description,
		DirectMembersCount: group.DirectMembersCount,
		AdminCreated:       group.AdminCreated,
		Aliases:            append([]string(nil), group.Aliases...),
	}
}

// The API reports the epoch for accounts that never signed in.
func parseLoginTime(value string) *time.Time {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil || parsed.Unix() <= 0 {
		return nil
	}
	parsed = parsed.UTC()
	return &parsed
}

var _ Directory = (*GoogleDirectory)(nil)
