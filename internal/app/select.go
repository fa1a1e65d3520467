package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"mmdump/internal/config"
	"mmdump/internal/driver"
	"mmdump/internal/engine"
	"mmdump/internal/model"
)

// boolValue resolves an optional config flag against its default.
func boolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (a *App) userByLocator(ctx context.Context, loc config.EntityLocator) (model.User, error) {
	switch {
	case loc.Id != "":
		return a.client.UserByID(ctx, model.Id(loc.Id))
	case loc.Name != "":
		return a.client.UserByName(ctx, loc.Name)
	case loc.InternalName != "":
		return a.client.UserByName(ctx, loc.InternalName)
	}
	return model.User{}, fmt.Errorf("empty user locator")
}

func matchTeam(t *model.Team, loc config.EntityLocator) bool {
	switch {
	case loc.Id != "":
		return t.Id == model.Id(loc.Id)
	case loc.InternalName != "":
		return t.InternalName == loc.InternalName
	default:
		return t.Name == loc.Name
	}
}

func matchChannel(ch *model.Channel, loc config.EntityLocator) bool {
	switch {
	case loc.Id != "":
		return ch.Id == model.Id(loc.Id)
	case loc.InternalName != "":
		return ch.InternalName == loc.InternalName
	default:
		return ch.Name == loc.Name
	}
}

// channelMembers fills ch.Members on first use.
func (a *App) channelMembers(ctx context.Context, ch *model.Channel) ([]model.User, error) {
	if ch.Members == nil {
		members, err := a.client.ChannelMembers(ctx, ch.Id)
		if err != nil {
			return nil, fmt.Errorf("loading members of channel %s: %w", ch.Id, err)
		}
		ch.Members = members
	}
	return ch.Members, nil
}

// matchGroupChannel tests a group channel against a group spec: either
// the channel id or the exact member set.
func (a *App) matchGroupChannel(ctx context.Context, ch *model.Channel, spec config.GroupSpec) (bool, error) {
	if spec.Group != "" {
		return ch.Id == model.Id(spec.Group), nil
	}

	wanted := make(map[model.Id]bool, len(spec.Members))
	for _, loc := range spec.Members {
		u, err := a.userByLocator(ctx, loc)
		if err != nil {
			return false, err
		}
		wanted[u.Id] = true
	}

	members, err := a.channelMembers(ctx, ch)
	if err != nil {
		return false, err
	}
	if len(members) != len(wanted) {
		return false, nil
	}
	for _, m := range members {
		if !wanted[m.Id] {
			return false, nil
		}
	}
	return true, nil
}

// groupArchiveName derives the archive name of a group channel from its
// sorted member names, falling back to the channel id.
func (a *App) groupArchiveName(ctx context.Context, ch *model.Channel) (string, error) {
	members, err := a.channelMembers(ctx, ch)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	userlist := strings.Join(names, "-")
	if userlist == "" {
		a.logger.Warn("group channel has no members, using id as archive name", "channel", ch.Id)
		userlist = string(ch.Id)
	}
	return "g." + userlist, nil
}

// sortedChannels returns a team's channels in a stable order.
func sortedChannels(t *model.Team) []*model.Channel {
	out := make([]*model.Channel, 0, len(t.Channels))
	for _, ch := range t.Channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// selectChannels resolves the configured teams, users and groups into
// the concrete list of channel runs. Teams must already have their
// channel listings loaded.
func (a *App) selectChannels(ctx context.Context, teams []*model.Team) ([]engine.ChannelRun, error) {
	me, err := a.client.LocalUser(ctx)
	if err != nil {
		return nil, err
	}

	direct, groups, err := a.selectGlobalChannels(ctx, me, teams)
	if err != nil {
		return nil, err
	}

	perTeam, err := a.selectTeamChannels(teams)
	if err != nil {
		return nil, err
	}

	runs := append(direct, groups...)
	return append(runs, perTeam...), nil
}

type explicitDirect struct {
	user model.User
	opts *config.ChannelOptions
}

// selectGlobalChannels picks the direct and group channels, which are
// not scoped to any team even though the server lists them under each.
func (a *App) selectGlobalChannels(ctx context.Context, me model.User, teams []*model.Team) (direct, groups []engine.ChannelRun, err error) {
	explicitUsers := make(map[string]explicitDirect)
	for _, spec := range a.cfg.Users {
		u, err := a.userByLocator(ctx, spec.User)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving user %s: %w", spec.User, err)
		}
		internalName := driver.DirectChannelName(me.Id, u.Id)
		if _, dup := explicitUsers[internalName]; dup {
			a.logger.Warn("direct messages for user requested more than once", "user", u.Name)
			continue
		}
		explicitUsers[internalName] = explicitDirect{user: u, opts: spec.Options}
	}

	wantMiscDirect := boolValue(a.cfg.DownloadUserChannels, true)
	wantMiscGroups := boolValue(a.cfg.DownloadGroupChannels, true)
	matchedGroups := make(map[int]bool)
	seen := make(map[model.Id]bool)

	for _, team := range teams {
		for _, ch := range sortedChannels(team) {
			if seen[ch.Id] {
				continue
			}

			switch ch.Type {
			case model.ChannelDirect:
				seen[ch.Id] = true
				if ex, ok := explicitUsers[ch.InternalName]; ok {
					delete(explicitUsers, ch.InternalName)
					direct = append(direct, engine.ChannelRun{
						Name:    "d." + me.Name + "--" + ex.user.Name,
						Channel: *ch,
						Request: a.cfg.DirectOptions(ex.opts).Request(),
					})
					continue
				}
				if !wantMiscDirect {
					continue
				}
				otherID := driver.OtherUserInDirectChannel(ch.InternalName, me.Id)
				other, err := a.client.UserByID(ctx, otherID)
				if err != nil {
					return nil, nil, fmt.Errorf("resolving direct channel peer %s: %w", otherID, err)
				}
				direct = append(direct, engine.ChannelRun{
					Name:    "d." + me.Name + "--" + other.Name,
					Channel: *ch,
					Request: a.cfg.DirectOptions(nil).Request(),
				})

			case model.ChannelGroup:
				seen[ch.Id] = true
				var opts *config.ChannelOptions
				matched := false
				for i, spec := range a.cfg.Groups {
					ok, err := a.matchGroupChannel(ctx, ch, spec)
					if err != nil {
						return nil, nil, err
					}
					if ok {
						matched = true
						matchedGroups[i] = true
						opts = spec.Options
						break
					}
				}
				if !matched && !wantMiscGroups {
					continue
				}
				name, err := a.groupArchiveName(ctx, ch)
				if err != nil {
					return nil, nil, err
				}
				groups = append(groups, engine.ChannelRun{
					Name:    name,
					Channel: *ch,
					Request: a.cfg.GroupOptions(opts).Request(),
				})
			}
		}
	}

	for _, ex := range explicitUsers {
		a.logger.Warn("found no direct channel with user", "user", ex.user.Name)
	}
	for i, spec := range a.cfg.Groups {
		if !matchedGroups[i] {
			a.logger.Warn("found no group channel matching spec", "group", spec.Group)
		}
	}
	return direct, groups, nil
}

// selectTeamChannels picks the public and private channels per team.
func (a *App) selectTeamChannels(teams []*model.Team) ([]engine.ChannelRun, error) {
	wantMiscTeams := boolValue(a.cfg.DownloadTeams, true)
	if !wantMiscTeams && len(a.cfg.Teams) == 0 {
		return nil, nil
	}

	var runs []engine.ChannelRun
	matchedTeams := make(map[int]bool)

	for _, team := range teams {
		var spec *config.TeamSpec
		for i := range a.cfg.Teams {
			if matchTeam(team, a.cfg.Teams[i].Team) {
				spec = &a.cfg.Teams[i]
				matchedTeams[i] = true
				break
			}
		}
		if spec == nil && !wantMiscTeams {
			continue
		}
		runs = append(runs, a.teamChannelRuns(team, spec)...)
	}

	for i := range a.cfg.Teams {
		if !matchedTeams[i] {
			a.logger.Warn("requested team not found", "team", a.cfg.Teams[i].Team.String())
		}
	}
	return runs, nil
}

func (a *App) teamChannelRuns(team *model.Team, spec *config.TeamSpec) []engine.ChannelRun {
	var explicitPublic, explicitPrivate []config.ChannelSpec
	wantMiscPublic, wantMiscPrivate := true, true
	if spec != nil {
		explicitPublic = spec.PublicChannels
		explicitPrivate = spec.PrivateChannels
		wantMiscPublic = boolValue(spec.DownloadPublicChannels, true)
		wantMiscPrivate = boolValue(spec.DownloadPrivateChannels, true)
	}
	matchedPublic := make(map[int]bool)
	matchedPrivate := make(map[int]bool)

	var runs []engine.ChannelRun
	add := func(ch *model.Channel, prefix string, opts *config.ChannelOptions) {
		runs = append(runs, engine.ChannelRun{
			Name:    prefix + "." + team.InternalName + "--" + ch.InternalName,
			Channel: *ch,
			Team:    team,
			Request: opts.Request(),
		})
	}

	for _, ch := range sortedChannels(team) {
		switch ch.Type {
		case model.ChannelOpen:
			matched := false
			for i, chSpec := range explicitPublic {
				if matchChannel(ch, chSpec.Channel) {
					matched = true
					matchedPublic[i] = true
					add(ch, "o", a.cfg.PublicOptions(spec, chSpec.Options))
					break
				}
			}
			if !matched && wantMiscPublic {
				add(ch, "o", a.cfg.PublicOptions(spec, nil))
			}
		case model.ChannelPrivate:
			matched := false
			for i, chSpec := range explicitPrivate {
				if matchChannel(ch, chSpec.Channel) {
					matched = true
					matchedPrivate[i] = true
					add(ch, "p", a.cfg.PrivateOptions(spec, chSpec.Options))
					break
				}
			}
			if !matched && wantMiscPrivate {
				add(ch, "p", a.cfg.PrivateOptions(spec, nil))
			}
		}
	}

	for i, chSpec := range explicitPublic {
		if !matchedPublic[i] {
			a.logger.Warn("requested public channel not found",
				"team", team.InternalName, "channel", chSpec.Channel.String())
		}
	}
	for i, chSpec := range explicitPrivate {
		if !matchedPrivate[i] {
			a.logger.Warn("requested private channel not found",
				"team", team.InternalName, "channel", chSpec.Channel.String())
		}
	}
	return runs
}
