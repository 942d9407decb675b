package bot

import "github.com/bwmarrin/discordgo"

func (b *Bot) registerCommands() error {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "scanchannels",
			Description: "Snapshot all channels and arm anti-nuke protection",
		},
		{
			Name:        "delete",
			Description: "Delete a protected channel without triggering a restore",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "channel to delete",
					Required:    true,
				},
			},
		},
		{
			Name:        "roleall",
			Description: "Give a role to every member",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "role to assign",
					Required:    true,
				},
			},
		},
		{
			Name:        "rolemass",
			Description: "Remove a role from every member",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "role to remove",
					Required:    true,
				},
			},
		},
		{
			Name:        "demote",
			Description: "Remove admin roles from a member",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "member to demote",
					Required:    true,
				},
			},
		},
		{
			Name:        "demoteeverymod",
			Description: "Remove admin roles from every non-owner member",
		},
		{
			Name:        "rolestrip",
			Description: "Remove every role from a member (requires confirmation)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "member to strip",
					Required:    true,
				},
			},
		},
		{
			Name:        "roleremoveall",
			Description: "Remove every role from every member (requires confirmation)",
		},
		{
			Name:        "grantall",
			Description: "Give every assignable role to a member",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "member to promote",
					Required:    true,
				},
			},
		},
		{
			Name:        "guardstatus",
			Description: "Show protection status and recent guard activity",
		},
		{
			Name:        "ticket",
			Description: "Trade ticket workflow",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "open",
					Description: "Open a middleman ticket",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "trader",
							Description: "username of the other trader",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "giving",
							Description: "what you are giving",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "receiving",
							Description: "what you are receiving",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "tier",
							Description: "trade value tier",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "low", Value: "low"},
								{Name: "mid", Value: "mid"},
								{Name: "high", Value: "high"},
							},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "claim",
					Description: "Claim the ticket in this channel",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "close",
					Description: "Close the ticket in this channel",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List open tickets",
				},
			},
		},
	}

	appID := b.session.State.User.ID
	for _, cmd := range commands {
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}
	return nil
}
